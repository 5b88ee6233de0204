package intake

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"booking-engine/internal/model"
)

const (
	DefaultDuplicateWindow = 30 * time.Minute
	DefaultProposalTTL     = 48 * time.Hour

	maxPreferredSpan = 24 * time.Hour
)

// Store is the persistence the intake path writes through. Atomically must run fn so
// that reads and the insert inside it are serialized per business.
type Store interface {
	GetService(ctx context.Context, businessID, serviceID string) (model.Service, error)
	FindRecentDuplicate(ctx context.Context, businessID, email string, preferredStart *time.Time, since time.Time) (model.BookingRequest, bool, error)
	CreateRequest(ctx context.Context, r *model.BookingRequest) error
	GetRequest(ctx context.Context, businessID, requestID string) (model.BookingRequest, error)
	UpdateRequest(ctx context.Context, r *model.BookingRequest) error
	Atomically(ctx context.Context, businessID string, fn func(ctx context.Context) error) error
}

// SlotChecker evaluates a requested interval against current availability.
// In instant mode the interval must be an offered slot; otherwise it only must not
// overlap busy time.
type SlotChecker interface {
	CheckSlot(ctx context.Context, settings model.BookingSettings, start, end time.Time, durationMinutes int, instant bool) error
}

type Payload struct {
	ServiceID      *string    `json:"service_id"`
	CustomerName   string     `json:"customer_name"`
	CustomerEmail  string     `json:"customer_email"`
	CustomerPhone  string     `json:"customer_phone"`
	Notes          string     `json:"notes"`
	PreferredStart *time.Time `json:"preferred_start"`
	PreferredEnd   *time.Time `json:"preferred_end"`
}

type Result struct {
	Request   model.BookingRequest
	Duplicate bool
}

type Options struct {
	DuplicateWindow time.Duration
	ProposalTTL     time.Duration
	Now             func() time.Time
}

type Service struct {
	store    Store
	checker  SlotChecker
	logger   *zap.Logger
	validate *validator.Validate
	opts     Options
}

func New(store Store, checker SlotChecker, logger *zap.Logger, opts Options) *Service {
	if opts.DuplicateWindow <= 0 {
		opts.DuplicateWindow = DefaultDuplicateWindow
	}
	if opts.ProposalTTL <= 0 {
		opts.ProposalTTL = DefaultProposalTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, checker: checker, logger: logger, validate: validator.New(), opts: opts}
}

// Create validates and persists a booking request. A submission matching a request
// created within the duplicate window (same business, email, preferred start) returns
// that request with Duplicate set instead of inserting a new one.
func (s *Service) Create(ctx context.Context, settings model.BookingSettings, p Payload) (Result, error) {
	businessID := settings.BusinessID
	if settings.BookingMode == model.ModeDisabled {
		return Result{}, model.ErrBookingDisabled
	}
	if err := s.normalize(&p); err != nil {
		return Result{}, err
	}

	duration := settings.DefaultDurationMinutes
	if p.ServiceID != nil {
		svc, err := s.store.GetService(ctx, businessID, *p.ServiceID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return Result{}, model.ErrInvalidService
			}
			return Result{}, model.Upstream("load service", err)
		}
		if !svc.Active || svc.BusinessID != businessID || svc.DurationMinutes <= 0 {
			return Result{}, model.ErrInvalidService
		}
		duration = svc.DurationMinutes
	}

	if p.PreferredStart != nil && p.PreferredEnd == nil {
		end := p.PreferredStart.Add(time.Duration(duration) * time.Minute)
		p.PreferredEnd = &end
	}
	instant := settings.BookingMode == model.ModeInstant
	if instant && p.PreferredStart == nil {
		return Result{}, model.Validation("preferred_start is required for instant booking")
	}

	var res Result
	err := s.store.Atomically(ctx, businessID, func(ctx context.Context) error {
		now := s.opts.Now().UTC()
		existing, found, err := s.store.FindRecentDuplicate(ctx, businessID, p.CustomerEmail, p.PreferredStart, now.Add(-s.opts.DuplicateWindow))
		if err != nil {
			return model.Upstream("duplicate lookup", err)
		}
		if found {
			s.logger.Warn("duplicate booking request submission",
				zap.String("business_id", businessID),
				zap.String("request_id", existing.ID))
			res = Result{Request: existing, Duplicate: true}
			return nil
		}

		if p.PreferredStart != nil && s.checker != nil {
			if err := s.checker.CheckSlot(ctx, settings, *p.PreferredStart, *p.PreferredEnd, duration, instant); err != nil {
				return err
			}
		}

		r := model.BookingRequest{
			ID:             uuid.NewString(),
			BusinessID:     businessID,
			ServiceID:      p.ServiceID,
			CustomerName:   p.CustomerName,
			CustomerEmail:  p.CustomerEmail,
			CustomerPhone:  p.CustomerPhone,
			Notes:          p.Notes,
			Status:         model.StatusRequested,
			PreferredStart: p.PreferredStart,
			PreferredEnd:   p.PreferredEnd,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if instant {
			r.Status = model.StatusApproved
			r.FirstRespondedAt = &now
			r.ApprovedAt = &now
		}
		if err := s.store.CreateRequest(ctx, &r); err != nil {
			return model.Upstream("create booking request", err)
		}
		res = Result{Request: r}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (s *Service) normalize(p *Payload) error {
	p.CustomerName = strings.TrimSpace(p.CustomerName)
	p.CustomerEmail = strings.ToLower(strings.TrimSpace(p.CustomerEmail))
	p.CustomerPhone = strings.TrimSpace(p.CustomerPhone)
	p.Notes = strings.TrimSpace(p.Notes)
	if p.ServiceID != nil {
		id := strings.TrimSpace(*p.ServiceID)
		if id == "" {
			p.ServiceID = nil
		} else {
			p.ServiceID = &id
		}
	}

	if p.CustomerName == "" || len(p.CustomerName) > 200 {
		return model.Validation("customer_name is required (max 200 chars)")
	}
	if err := s.validate.Var(p.CustomerEmail, "required,email,max=254"); err != nil {
		return model.Validation("customer_email must be a valid email address")
	}
	if p.CustomerPhone != "" {
		if err := s.validate.Var(p.CustomerPhone, "e164"); err != nil {
			return model.Validation("customer_phone must be in E.164 format")
		}
	}
	if len(p.Notes) > 2000 {
		return model.Validation("notes must be at most 2000 chars")
	}
	if p.PreferredEnd != nil && p.PreferredStart == nil {
		return model.Validation("preferred_end requires preferred_start")
	}
	if p.PreferredStart != nil {
		start := p.PreferredStart.UTC()
		p.PreferredStart = &start
	}
	if p.PreferredEnd != nil {
		end := p.PreferredEnd.UTC()
		if !end.After(*p.PreferredStart) {
			return model.Validation("preferred_end must be after preferred_start")
		}
		if end.Sub(*p.PreferredStart) > maxPreferredSpan {
			return model.Validation("preferred interval must be at most %s", maxPreferredSpan)
		}
		p.PreferredEnd = &end
	}
	return nil
}
