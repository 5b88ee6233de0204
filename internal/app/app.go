package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"booking-engine/internal/availability"
	"booking-engine/internal/calendar"
	"booking-engine/internal/events"
	"booking-engine/internal/intake"
	"booking-engine/internal/links"
	"booking-engine/internal/metrics"
	"booking-engine/internal/model"
	"booking-engine/internal/ratelimit"
	"booking-engine/internal/storage"
)

const publishTimeout = 5 * time.Second

// App is the booking engine facade the HTTP layer calls into. It holds no mutable state
// of its own; every collaborator is injected.
type App struct {
	Store    storage.Store
	Avail    *availability.Adapter
	Intake   *intake.Service
	Links    *links.Resolver
	Metrics  *metrics.Aggregator
	Calendar *calendar.Syncer
	Events   events.Publisher
	Limiter  ratelimit.Store
	Logger   *zap.Logger
	Auth     AuthConfig
	CORS     []string
	Ready    []ReadyCheck

	// TrustedProxies are the peers whose X-Forwarded-For / X-Real-IP are honored.
	TrustedProxies []string

	now func() time.Time
}

type Options struct {
	DuplicateWindow time.Duration
	ProposalTTL     time.Duration
	Auth            AuthConfig
	CORSOrigins     []string
	TrustedProxies  []string
	Calendar        *calendar.Syncer
	Events          events.Publisher
	Limiter         ratelimit.Store
	Ready           []ReadyCheck
	Now             func() time.Time
}

func New(store storage.Store, logger *zap.Logger, opts Options) *App {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewMemory(60)
	}
	a := &App{
		Store:    store,
		Avail:    availability.NewAdapter(store, logger),
		Links:    links.NewResolver(store, logger).WithClock(opts.Now),
		Metrics:  metrics.NewAggregator(store, logger).WithClock(opts.Now),
		Calendar: opts.Calendar,
		Events:   opts.Events,
		Limiter:  opts.Limiter,
		Logger:   logger,
		Auth:     opts.Auth,
		CORS:     opts.CORSOrigins,
		Ready:    opts.Ready,

		TrustedProxies: opts.TrustedProxies,
		now:      opts.Now,
	}
	a.Intake = intake.New(store, a, logger, intake.Options{
		DuplicateWindow: opts.DuplicateWindow,
		ProposalTTL:     opts.ProposalTTL,
		Now:             opts.Now,
	})
	return a
}

// CreateRequest runs intake for the business and, for a newly stored request, publishes
// booking.request.created.v1 without waiting for delivery.
func (a *App) CreateRequest(ctx context.Context, businessID string, p intake.Payload) (intake.Result, error) {
	settings, err := a.Avail.Settings(ctx, businessID)
	if err != nil {
		return intake.Result{}, err
	}
	res, err := a.Intake.Create(ctx, settings, p)
	if err != nil {
		return intake.Result{}, err
	}
	if !res.Duplicate {
		a.publishCreated(ctx, res.Request)
	}
	return res, nil
}

func (a *App) publishCreated(ctx context.Context, r model.BookingRequest) {
	evt := events.NewRequestCreated(r)
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := a.Events.PublishRequestCreated(ctx, evt); err != nil {
			a.Logger.Warn("failed to publish booking request event",
				zap.String("business_id", r.BusinessID),
				zap.String("request_id", r.ID),
				zap.Error(err))
		}
	}()
}

func (a *App) UpdateStatus(ctx context.Context, businessID, requestID string, in intake.TransitionInput) (model.BookingRequest, error) {
	return a.Intake.Transition(ctx, businessID, requestID, in)
}

func (a *App) ListRequests(ctx context.Context, businessID string, status model.Status, limit int) ([]model.BookingRequest, error) {
	if status != "" && !status.Valid() {
		return nil, model.Validation("unknown status %q", status)
	}
	if limit < 0 || limit > 500 {
		return nil, model.Validation("limit must be between 0 and 500")
	}
	out, err := a.Store.ListRequests(ctx, businessID, status, limit)
	if err != nil {
		return nil, model.Upstream("list booking requests", err)
	}
	if out == nil {
		out = []model.BookingRequest{}
	}
	return out, nil
}

func (a *App) ResolvePublicLink(ctx context.Context, token string) (links.Resolution, error) {
	return a.Links.Resolve(ctx, token)
}

// EnsureLink issues the business's public link, slugged from its name when known.
func (a *App) EnsureLink(ctx context.Context, businessID string) (model.PublicLink, error) {
	var slug string
	b, ok, err := a.Store.GetBusiness(ctx, businessID)
	if err != nil {
		return model.PublicLink{}, model.Upstream("load business", err)
	}
	if ok {
		slug = b.Name
	}
	return a.Links.EnsureLink(ctx, businessID, slug)
}

func (a *App) GetMetrics(ctx context.Context, businessID, rng string) (metrics.Metrics, error) {
	settings, err := a.Avail.Settings(ctx, businessID)
	if err != nil {
		return metrics.Metrics{}, err
	}
	return a.Metrics.Aggregate(ctx, settings, metrics.ParseRange(rng))
}
