package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"booking-engine/internal/availability"
	"booking-engine/internal/calendar"
	"booking-engine/internal/model"
)

func (a *App) ListAvailability(ctx context.Context, businessID string) ([]model.AvailabilityWindow, error) {
	return a.Avail.Windows(ctx, businessID)
}

// ReplaceAvailability validates every window before touching the store; one bad window
// rejects the whole set.
func (a *App) ReplaceAvailability(ctx context.Context, businessID string, windows []model.AvailabilityWindow) ([]model.AvailabilityWindow, error) {
	for i, w := range windows {
		if err := availability.ValidateWindow(w); err != nil {
			return nil, model.Validation("window %d: %s", i, messageOf(err))
		}
	}
	out, err := a.Store.ReplaceWindows(ctx, businessID, windows)
	if err != nil {
		return nil, model.Upstream("replace availability windows", err)
	}
	return out, nil
}

func (a *App) ListExceptions(ctx context.Context, businessID, date string) ([]model.AvailabilityException, error) {
	if date != "" {
		if _, err := time.Parse(availability.DateLayout, date); err != nil {
			return nil, model.Validation("invalid date %q, expected YYYY-MM-DD", date)
		}
	}
	return a.Avail.Exceptions(ctx, businessID, date)
}

// ReplaceExceptions replaces all exceptions on each date named in dates or carried by an
// exception. Dates not mentioned are left alone.
func (a *App) ReplaceExceptions(ctx context.Context, businessID string, dates []string, exceptions []model.AvailabilityException) ([]model.AvailabilityException, error) {
	set := map[string]bool{}
	for _, d := range dates {
		if _, err := time.Parse(availability.DateLayout, d); err != nil {
			return nil, model.Validation("invalid date %q, expected YYYY-MM-DD", d)
		}
		set[d] = true
	}
	for i, e := range exceptions {
		if err := availability.ValidateException(e); err != nil {
			return nil, model.Validation("exception %d: %s", i, messageOf(err))
		}
		set[e.Date] = true
	}
	all := make([]string, 0, len(set))
	for d := range set {
		all = append(all, d)
	}
	sort.Strings(all)

	out, err := a.Store.ReplaceExceptions(ctx, businessID, all, exceptions)
	if err != nil {
		return nil, model.Upstream("replace availability exceptions", err)
	}
	return out, nil
}

func (a *App) GetSettings(ctx context.Context, businessID string) (model.BookingSettings, error) {
	return a.Avail.Settings(ctx, businessID)
}

// UpdateSettings stores the settings and makes sure the business has a public link.
// Link issuance failures are logged, never returned.
func (a *App) UpdateSettings(ctx context.Context, businessID string, s model.BookingSettings) (model.BookingSettings, error) {
	s.BusinessID = businessID
	s.Timezone = strings.TrimSpace(s.Timezone)
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if s.BookingMode == "" {
		s.BookingMode = model.ModeRequest
	}
	if s.DefaultDurationMinutes == 0 {
		s.DefaultDurationMinutes = model.DefaultSettings(businessID).DefaultDurationMinutes
	}
	if err := validateSettings(s); err != nil {
		return model.BookingSettings{}, err
	}
	if err := a.Store.UpsertSettings(ctx, s); err != nil {
		return model.BookingSettings{}, model.Upstream("save booking settings", err)
	}
	if _, err := a.EnsureLink(ctx, businessID); err != nil {
		a.Logger.Warn("public link issuance failed after settings update",
			zap.String("business_id", businessID), zap.Error(err))
	}
	return s, nil
}

func validateSettings(s model.BookingSettings) error {
	if _, err := availability.LoadLocation(s.Timezone); err != nil {
		return err
	}
	if err := availability.ValidateBounds(s); err != nil {
		return err
	}
	if s.DefaultDurationMinutes <= 0 || s.DefaultDurationMinutes > availability.MaxDurationMinutes {
		return model.Validation("default_duration_minutes must be between 1 and %d", availability.MaxDurationMinutes)
	}
	switch s.BookingMode {
	case model.ModeRequest, model.ModeInstant, model.ModeDisabled:
	default:
		return model.Validation("invalid booking_mode %q", s.BookingMode)
	}
	return nil
}

// CreateBusyBlock stores a manual block. Synced sources are written only by calendar sync.
func (a *App) CreateBusyBlock(ctx context.Context, businessID string, b model.BusyBlock) (model.BusyBlock, error) {
	if b.Start.IsZero() || !b.End.After(b.Start) {
		return model.BusyBlock{}, model.Validation("end must be after start")
	}
	b.ID = ""
	b.BusinessID = businessID
	b.Source = model.SourceManual
	b.Start, b.End = b.Start.UTC(), b.End.UTC()
	if err := a.Store.CreateBusyBlock(ctx, &b); err != nil {
		return model.BusyBlock{}, model.Upstream("create busy block", err)
	}
	return b, nil
}

func (a *App) DeleteBusyBlock(ctx context.Context, businessID, blockID string) error {
	return model.Upstream("delete busy block", a.Store.DeleteBusyBlock(ctx, businessID, blockID))
}

// SyncCalendar mirrors the connected calendar over the business's bookable horizon.
func (a *App) SyncCalendar(ctx context.Context, businessID string) (calendar.SyncResult, error) {
	if !a.Calendar.Configured() {
		return calendar.SyncResult{}, &model.Error{Code: model.CodeUpstream, Message: "calendar integration not configured"}
	}
	settings, err := a.Avail.Settings(ctx, businessID)
	if err != nil {
		return calendar.SyncResult{}, err
	}
	loc, err := availability.LoadLocation(settings.Timezone)
	if err != nil {
		return calendar.SyncResult{}, err
	}
	today := availability.DayOf(a.now(), loc)
	from, to := today.Start(), today.AddDays(settings.MaxDaysOut).End()

	res, err := a.Calendar.Sync(ctx, businessID, loc, from, to)
	if errors.Is(err, calendar.ErrNotConnected) {
		return calendar.SyncResult{}, &model.Error{Code: model.CodeNotFound, Message: "calendar not connected"}
	}
	if err != nil {
		return calendar.SyncResult{}, model.Upstream("calendar sync", err)
	}
	return res, nil
}

func messageOf(err error) string {
	var coded *model.Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	return err.Error()
}
