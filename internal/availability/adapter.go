package availability

import (
	"context"
	"time"

	"go.uber.org/zap"

	"booking-engine/internal/model"
)

// Store is the read side of the persistence layer the engine needs for one tenant.
type Store interface {
	ListWindows(ctx context.Context, businessID string) ([]model.AvailabilityWindow, error)
	ListExceptions(ctx context.Context, businessID, date string) ([]model.AvailabilityException, error)
	GetSettings(ctx context.Context, businessID string) (model.BookingSettings, bool, error)
	ListBusyBlocks(ctx context.Context, businessID string, from, to time.Time) ([]model.BusyBlock, error)
	ListOccupyingRequests(ctx context.Context, businessID string, from, to time.Time) ([]model.BookingRequest, error)
}

// Adapter is a tenant-scoped read projection over Store. An unconfigured business reads
// as fully closed: empty slices, default settings, never an error.
type Adapter struct {
	store  Store
	logger *zap.Logger
}

func NewAdapter(store Store, logger *zap.Logger) *Adapter {
	return &Adapter{store: store, logger: logger}
}

func (a *Adapter) Windows(ctx context.Context, businessID string) ([]model.AvailabilityWindow, error) {
	rows, err := a.store.ListWindows(ctx, businessID)
	if err != nil {
		return nil, model.Upstream("list availability windows", err)
	}
	out := make([]model.AvailabilityWindow, 0, len(rows))
	for _, w := range rows {
		if w.BusinessID != "" && w.BusinessID != businessID {
			continue
		}
		if err := ValidateWindow(w); err != nil {
			a.logger.Warn("skipping invalid availability window",
				zap.String("business_id", businessID),
				zap.String("window_id", w.ID),
				zap.Error(err))
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (a *Adapter) Exceptions(ctx context.Context, businessID, date string) ([]model.AvailabilityException, error) {
	rows, err := a.store.ListExceptions(ctx, businessID, date)
	if err != nil {
		return nil, model.Upstream("list availability exceptions", err)
	}
	out := make([]model.AvailabilityException, 0, len(rows))
	for _, e := range rows {
		if e.BusinessID != "" && e.BusinessID != businessID {
			continue
		}
		if err := ValidateException(e); err != nil {
			a.logger.Warn("skipping invalid availability exception",
				zap.String("business_id", businessID),
				zap.String("exception_id", e.ID),
				zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (a *Adapter) Settings(ctx context.Context, businessID string) (model.BookingSettings, error) {
	s, ok, err := a.store.GetSettings(ctx, businessID)
	if err != nil {
		return model.BookingSettings{}, model.Upstream("load booking settings", err)
	}
	if !ok {
		return model.DefaultSettings(businessID), nil
	}
	if s.DefaultDurationMinutes <= 0 {
		s.DefaultDurationMinutes = model.DefaultSettings(businessID).DefaultDurationMinutes
	}
	if s.BookingMode == "" {
		s.BookingMode = model.ModeRequest
	}
	return s, nil
}

// Busy runs the busy interval resolver for one day against the store.
func (a *Adapter) Busy(ctx context.Context, businessID string, day Day, fallback time.Duration, now time.Time) ([]Interval, error) {
	bounds := day.Bounds()
	blocks, err := a.store.ListBusyBlocks(ctx, businessID, bounds.Start, bounds.End)
	if err != nil {
		return nil, model.Upstream("list busy blocks", err)
	}
	requests, err := a.store.ListOccupyingRequests(ctx, businessID, bounds.Start, bounds.End)
	if err != nil {
		return nil, model.Upstream("list booking requests", err)
	}
	return ResolveBusy(day, blocks, requests, fallback, now), nil
}
