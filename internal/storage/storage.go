package storage

import (
	"context"
	"time"

	"booking-engine/internal/availability"
	"booking-engine/internal/intake"
	"booking-engine/internal/links"
	"booking-engine/internal/metrics"
	"booking-engine/internal/model"
)

// Store is everything the service persists. Postgres is the production implementation;
// Memory backs tests and local runs.
type Store interface {
	availability.Store
	intake.Store
	links.Store
	metrics.Store

	Ping(ctx context.Context) error
	GetBusiness(ctx context.Context, id string) (model.Business, bool, error)

	ReplaceWindows(ctx context.Context, businessID string, windows []model.AvailabilityWindow) ([]model.AvailabilityWindow, error)
	ReplaceExceptions(ctx context.Context, businessID string, dates []string, exceptions []model.AvailabilityException) ([]model.AvailabilityException, error)
	UpsertSettings(ctx context.Context, s model.BookingSettings) error

	CreateBusyBlock(ctx context.Context, b *model.BusyBlock) error
	DeleteBusyBlock(ctx context.Context, businessID, blockID string) error
	ReplaceSyncedBlocks(ctx context.Context, businessID string, source model.BusySource, from, to time.Time, blocks []model.BusyBlock) error

	ListRequests(ctx context.Context, businessID string, status model.Status, limit int) ([]model.BookingRequest, error)

	SaveCalendarToken(ctx context.Context, businessID string, source model.BusySource, token []byte) error
	GetCalendarToken(ctx context.Context, businessID string, source model.BusySource) ([]byte, bool, error)
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)
