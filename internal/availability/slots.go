package availability

import (
	"time"

	"booking-engine/internal/model"
)

// SlotInput is everything GenerateSlots needs; it performs no I/O.
type SlotInput struct {
	Settings        model.BookingSettings
	Windows         []model.AvailabilityWindow
	Exceptions      []model.AvailabilityException
	Busy            []Interval
	DurationMinutes int
	Date            string
	Now             time.Time
}

// GenerateSlots returns the bookable slot starts for one date in ascending order.
// A date past MaxDaysOut, or one that lies entirely before the notice horizon,
// yields ErrOutOfRange rather than an empty list.
func GenerateSlots(in SlotInput) ([]time.Time, error) {
	if in.DurationMinutes <= 0 || in.DurationMinutes > MaxDurationMinutes {
		return nil, model.Validation("duration must be between 1 and %d minutes", MaxDurationMinutes)
	}
	loc, err := LoadLocation(in.Settings.Timezone)
	if err != nil {
		return nil, err
	}
	day, err := ParseDay(in.Date, loc)
	if err != nil {
		return nil, err
	}
	if err := CheckRange(in.Settings, day, in.Now); err != nil {
		return nil, err
	}

	earliest := in.Now.Add(time.Duration(in.Settings.MinNoticeHours) * time.Hour)
	duration := time.Duration(in.DurationMinutes) * time.Minute
	step := duration + time.Duration(in.Settings.BufferMinutes)*time.Minute

	open := OpenIntervals(day, in.Windows, in.Exceptions)
	free := Subtract(open, in.Busy)

	slots := []time.Time{}
	var last time.Time
	for _, iv := range free {
		cursor := iv.Start
		if !last.IsZero() && cursor.Before(last.Add(step)) {
			cursor = last.Add(step)
		}
		for ; !cursor.Add(duration).After(iv.End); cursor = cursor.Add(step) {
			if cursor.Before(earliest) {
				continue
			}
			slots = append(slots, cursor)
			last = cursor
		}
	}
	return slots, nil
}

// CheckRange enforces the max-days-out and notice horizons at date level.
func CheckRange(settings model.BookingSettings, day Day, now time.Time) error {
	if err := ValidateBounds(settings); err != nil {
		return err
	}
	today := DayOf(now, day.Loc)
	if day.After(today.AddDays(settings.MaxDaysOut)) {
		return &model.Error{Code: model.CodeOutOfRange, Message: "date is beyond the booking horizon"}
	}
	earliest := now.Add(time.Duration(settings.MinNoticeHours) * time.Hour)
	if !day.End().After(earliest) {
		return &model.Error{Code: model.CodeOutOfRange, Message: "date is inside the minimum notice period"}
	}
	return nil
}
