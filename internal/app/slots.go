package app

import (
	"context"
	"time"

	"booking-engine/internal/availability"
	"booking-engine/internal/model"
)

// Slot DTO
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type SlotList struct {
	Date            string `json:"date"`
	Timezone        string `json:"timezone"`
	DurationMinutes int    `json:"duration_minutes"`
	Slots           []Slot `json:"slots"`
}

// ListSlots returns the bookable slots for one local date. serviceID, when set, picks the
// slot length; otherwise the business default applies.
func (a *App) ListSlots(ctx context.Context, businessID, date string, serviceID *string) (SlotList, error) {
	settings, err := a.Avail.Settings(ctx, businessID)
	if err != nil {
		return SlotList{}, err
	}
	duration, err := a.durationFor(ctx, settings, serviceID)
	if err != nil {
		return SlotList{}, err
	}
	starts, err := a.slotStarts(ctx, settings, date, duration)
	if err != nil {
		return SlotList{}, err
	}

	out := SlotList{Date: date, Timezone: settings.Timezone, DurationMinutes: duration, Slots: make([]Slot, len(starts))}
	for i, s := range starts {
		out.Slots[i] = Slot{Start: s.UTC(), End: s.Add(time.Duration(duration) * time.Minute).UTC()}
	}
	return out, nil
}

func (a *App) durationFor(ctx context.Context, settings model.BookingSettings, serviceID *string) (int, error) {
	if serviceID == nil || *serviceID == "" {
		return settings.DefaultDurationMinutes, nil
	}
	svc, err := a.Store.GetService(ctx, settings.BusinessID, *serviceID)
	if err != nil {
		if model.CodeOf(err) == model.CodeNotFound {
			return 0, model.ErrInvalidService
		}
		return 0, model.Upstream("load service", err)
	}
	if !svc.Active || svc.DurationMinutes <= 0 {
		return 0, model.ErrInvalidService
	}
	return svc.DurationMinutes, nil
}

func (a *App) slotStarts(ctx context.Context, settings model.BookingSettings, date string, duration int) ([]time.Time, error) {
	loc, err := availability.LoadLocation(settings.Timezone)
	if err != nil {
		return nil, err
	}
	day, err := availability.ParseDay(date, loc)
	if err != nil {
		return nil, err
	}
	now := a.now()
	if err := availability.CheckRange(settings, day, now); err != nil {
		return nil, err
	}

	windows, err := a.Avail.Windows(ctx, settings.BusinessID)
	if err != nil {
		return nil, err
	}
	exceptions, err := a.Avail.Exceptions(ctx, settings.BusinessID, day.String())
	if err != nil {
		return nil, err
	}
	busy, err := a.Avail.Busy(ctx, settings.BusinessID, day, fallbackDuration(settings), now)
	if err != nil {
		return nil, err
	}
	return availability.GenerateSlots(availability.SlotInput{
		Settings:        settings,
		Windows:         windows,
		Exceptions:      exceptions,
		Busy:            busy,
		DurationMinutes: duration,
		Date:            day.String(),
		Now:             now,
	})
}

func fallbackDuration(settings model.BookingSettings) time.Duration {
	return time.Duration(settings.DefaultDurationMinutes) * time.Minute
}

// CheckSlot implements intake.SlotChecker. Instant bookings must land exactly on an
// offered slot. Requests must start between now and the booking horizon and must not
// overlap busy time on any day they touch.
func (a *App) CheckSlot(ctx context.Context, settings model.BookingSettings, start, end time.Time, duration int, instant bool) error {
	loc, err := availability.LoadLocation(settings.Timezone)
	if err != nil {
		return err
	}

	if instant {
		if !end.Equal(start.Add(time.Duration(duration) * time.Minute)) {
			return model.ErrSlotUnavailable
		}
		starts, err := a.slotStarts(ctx, settings, availability.DayOf(start, loc).String(), duration)
		if err != nil {
			if model.CodeOf(err) == model.CodeOutOfRange {
				return model.ErrSlotUnavailable
			}
			return err
		}
		for _, s := range starts {
			if s.Equal(start) {
				return nil
			}
		}
		return model.ErrSlotUnavailable
	}

	now := a.now()
	if err := availability.ValidateBounds(settings); err != nil {
		return err
	}
	if start.Before(now) {
		return &model.Error{Code: model.CodeOutOfRange, Message: "preferred start is in the past"}
	}
	if availability.DayOf(start, loc).After(availability.DayOf(now, loc).AddDays(settings.MaxDaysOut)) {
		return &model.Error{Code: model.CodeOutOfRange, Message: "preferred start is beyond the booking horizon"}
	}

	want := availability.Interval{Start: start, End: end}
	last := availability.DayOf(end.Add(-time.Nanosecond), loc)
	for day := availability.DayOf(start, loc); !day.After(last); day = day.AddDays(1) {
		busy, err := a.Avail.Busy(ctx, settings.BusinessID, day, fallbackDuration(settings), now)
		if err != nil {
			return err
		}
		for _, b := range busy {
			if b.Overlaps(want) {
				return model.ErrSlotUnavailable
			}
		}
	}
	return nil
}
