package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"booking-engine/internal/model"
)

// ErrNotConnected means the business has not authorized calendar access.
var ErrNotConnected = errors.New("calendar not connected")

// NewOAuthConfig returns nil when Google credentials are not configured.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{gcal.CalendarReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

type TokenStore interface {
	SaveCalendarToken(ctx context.Context, businessID string, source model.BusySource, token []byte) error
	GetCalendarToken(ctx context.Context, businessID string, source model.BusySource) ([]byte, bool, error)
	ReplaceSyncedBlocks(ctx context.Context, businessID string, source model.BusySource, from, to time.Time, blocks []model.BusyBlock) error
}

// EventLister fetches the raw events in [from, to) from the primary calendar.
type EventLister interface {
	ListEvents(ctx context.Context, ts oauth2.TokenSource, from, to time.Time) ([]*gcal.Event, error)
}

type googleLister struct{}

func (googleLister) ListEvents(ctx context.Context, ts oauth2.TokenSource, from, to time.Time) ([]*gcal.Event, error) {
	srv, err := gcal.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	var out []*gcal.Event
	err = srv.Events.List("primary").
		SingleEvents(true).
		OrderBy("startTime").
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		MaxResults(250).
		Pages(ctx, func(page *gcal.Events) error {
			out = append(out, page.Items...)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

// Syncer mirrors a business's Google Calendar into busy blocks with source google.
type Syncer struct {
	oauth  *oauth2.Config
	store  TokenStore
	lister EventLister
	logger *zap.Logger
}

func NewSyncer(cfg *oauth2.Config, store TokenStore, logger *zap.Logger) *Syncer {
	return &Syncer{oauth: cfg, store: store, lister: googleLister{}, logger: logger}
}

func (s *Syncer) Configured() bool { return s != nil && s.oauth != nil }

func (s *Syncer) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Connect exchanges the authorization code and stores the token for the business.
func (s *Syncer) Connect(ctx context.Context, businessID, code string) error {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return s.store.SaveCalendarToken(ctx, businessID, model.SourceGoogle, raw)
}

type SyncResult struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Blocks int       `json:"blocks"`
}

// Sync replaces the business's google busy blocks in [from, to) with the calendar's
// current events. A refreshed token is written back.
func (s *Syncer) Sync(ctx context.Context, businessID string, loc *time.Location, from, to time.Time) (SyncResult, error) {
	raw, ok, err := s.store.GetCalendarToken(ctx, businessID, model.SourceGoogle)
	if err != nil {
		return SyncResult{}, err
	}
	if !ok {
		return SyncResult{}, ErrNotConnected
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return SyncResult{}, fmt.Errorf("decode stored token: %w", err)
	}

	ts := s.oauth.TokenSource(ctx, &tok)
	items, err := s.lister.ListEvents(ctx, ts, from, to)
	if err != nil {
		return SyncResult{}, err
	}
	blocks := EventsToBlocks(businessID, items, loc)
	if err := s.store.ReplaceSyncedBlocks(ctx, businessID, model.SourceGoogle, from, to, blocks); err != nil {
		return SyncResult{}, err
	}

	if fresh, err := ts.Token(); err == nil && fresh.AccessToken != tok.AccessToken {
		if raw, err := json.Marshal(fresh); err == nil {
			if err := s.store.SaveCalendarToken(ctx, businessID, model.SourceGoogle, raw); err != nil {
				s.logger.Warn("failed to persist refreshed calendar token", zap.String("business_id", businessID), zap.Error(err))
			}
		}
	}
	s.logger.Info("calendar synced",
		zap.String("business_id", businessID),
		zap.Int("events", len(items)),
		zap.Int("blocks", len(blocks)))
	return SyncResult{From: from, To: to, Blocks: len(blocks)}, nil
}

// EventsToBlocks keeps events that make the owner busy. Cancelled and transparent
// ("free") events are dropped; all-day events cover whole local days in loc.
func EventsToBlocks(businessID string, items []*gcal.Event, loc *time.Location) []model.BusyBlock {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]model.BusyBlock, 0, len(items))
	for _, item := range items {
		if item == nil || item.Status == "cancelled" || item.Transparency == "transparent" {
			continue
		}
		start, ok := eventTime(item.Start, loc)
		if !ok {
			continue
		}
		end, ok := eventTime(item.End, loc)
		if !ok || !end.After(start) {
			continue
		}
		out = append(out, model.BusyBlock{
			BusinessID: businessID,
			Start:      start.UTC(),
			End:        end.UTC(),
			Reason:     item.Summary,
			Source:     model.SourceGoogle,
		})
	}
	return out
}

func eventTime(dt *gcal.EventDateTime, loc *time.Location) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, err == nil
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", dt.Date, loc)
		return t, err == nil
	}
	return time.Time{}, false
}
