package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"booking-engine/internal/links"
	"booking-engine/internal/model"
)

// Memory is an in-process store for tests and local runs. Atomically serializes per
// business on a lock separate from the data mutex, so store calls inside fn still work.
type Memory struct {
	mu         sync.RWMutex
	businesses map[string]model.Business
	windows    map[string][]model.AvailabilityWindow
	exceptions map[string][]model.AvailabilityException
	settings   map[string]model.BookingSettings
	blocks     map[string][]model.BusyBlock
	services   map[string]model.Service
	requests   map[string]model.BookingRequest
	links      map[string]model.PublicLink
	tokens     map[string][]byte

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		businesses: map[string]model.Business{},
		windows:    map[string][]model.AvailabilityWindow{},
		exceptions: map[string][]model.AvailabilityException{},
		settings:   map[string]model.BookingSettings{},
		blocks:     map[string][]model.BusyBlock{},
		services:   map[string]model.Service{},
		requests:   map[string]model.BookingRequest{},
		links:      map[string]model.PublicLink{},
		tokens:     map[string][]byte{},
		locks:      map[string]*sync.Mutex{},
	}
}

func (m *Memory) Atomically(ctx context.Context, businessID string, fn func(ctx context.Context) error) error {
	m.locksMu.Lock()
	l, ok := m.locks[businessID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[businessID] = l
	}
	m.locksMu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) PutBusiness(b model.Business) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.businesses[b.ID] = b
}

func (m *Memory) GetBusiness(_ context.Context, id string) (model.Business, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.businesses[id]
	return b, ok, nil
}

func (m *Memory) GetBusinessByLegacyKey(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.businesses {
		if b.LegacyKey != "" && strings.EqualFold(b.LegacyKey, key) {
			return b.ID, true, nil
		}
	}
	return "", false, nil
}

// Availability

func (m *Memory) ListWindows(_ context.Context, businessID string) ([]model.AvailabilityWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.AvailabilityWindow(nil), m.windows[businessID]...), nil
}

func (m *Memory) ReplaceWindows(_ context.Context, businessID string, windows []model.AvailabilityWindow) ([]model.AvailabilityWindow, error) {
	out := make([]model.AvailabilityWindow, len(windows))
	for i, w := range windows {
		w.ID = uuid.NewString()
		w.BusinessID = businessID
		out[i] = w
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[businessID] = out
	return append([]model.AvailabilityWindow(nil), out...), nil
}

// ListExceptions returns the exceptions on date, or all of them when date is empty.
func (m *Memory) ListExceptions(_ context.Context, businessID, date string) ([]model.AvailabilityException, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.AvailabilityException
	for _, e := range m.exceptions[businessID] {
		if date == "" || e.Date == date {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ReplaceExceptions(_ context.Context, businessID string, dates []string, exceptions []model.AvailabilityException) ([]model.AvailabilityException, error) {
	replaced := map[string]bool{}
	for _, d := range dates {
		replaced[d] = true
	}
	added := make([]model.AvailabilityException, len(exceptions))
	for i, e := range exceptions {
		e.ID = uuid.NewString()
		e.BusinessID = businessID
		added[i] = e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := added
	for _, e := range m.exceptions[businessID] {
		if !replaced[e.Date] {
			kept = append(kept, e)
		}
	}
	m.exceptions[businessID] = kept
	return append([]model.AvailabilityException(nil), added...), nil
}

func (m *Memory) GetSettings(_ context.Context, businessID string) (model.BookingSettings, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[businessID]
	return s, ok, nil
}

func (m *Memory) UpsertSettings(_ context.Context, s model.BookingSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.BusinessID] = s
	return nil
}

// Busy blocks

func (m *Memory) ListBusyBlocks(_ context.Context, businessID string, from, to time.Time) ([]model.BusyBlock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.BusyBlock
	for _, b := range m.blocks[businessID] {
		if b.Start.Before(to) && b.End.After(from) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) CreateBusyBlock(_ context.Context, b *model.BusyBlock) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.BusinessID] = append(m.blocks[b.BusinessID], *b)
	return nil
}

// DeleteBusyBlock removes a manual block. Synced blocks are owned by their calendar.
func (m *Memory) DeleteBusyBlock(_ context.Context, businessID, blockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	blocks := m.blocks[businessID]
	for i, b := range blocks {
		if b.ID == blockID && b.Source == model.SourceManual {
			m.blocks[businessID] = append(blocks[:i:i], blocks[i+1:]...)
			return nil
		}
	}
	return model.ErrNotFound
}

func (m *Memory) ReplaceSyncedBlocks(_ context.Context, businessID string, source model.BusySource, from, to time.Time, blocks []model.BusyBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []model.BusyBlock
	for _, b := range m.blocks[businessID] {
		if b.Source == source && b.Start.Before(to) && b.End.After(from) {
			continue
		}
		kept = append(kept, b)
	}
	for _, b := range blocks {
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		b.BusinessID, b.Source = businessID, source
		kept = append(kept, b)
	}
	m.blocks[businessID] = kept
	return nil
}

// Services

func (m *Memory) PutService(s model.Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.ID] = s
}

func (m *Memory) GetService(_ context.Context, businessID, serviceID string) (model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[serviceID]
	if !ok || s.BusinessID != businessID {
		return model.Service{}, model.ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListServices(_ context.Context, businessID string) ([]model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Service
	for _, s := range m.services {
		if s.BusinessID == businessID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Requests

func (m *Memory) CreateRequest(_ context.Context, r *model.BookingRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = *r
	return nil
}

func (m *Memory) UpdateRequest(_ context.Context, r *model.BookingRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[r.ID]
	if !ok || cur.BusinessID != r.BusinessID {
		return model.ErrNotFound
	}
	m.requests[r.ID] = *r
	return nil
}

func (m *Memory) GetRequest(_ context.Context, businessID, requestID string) (model.BookingRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[requestID]
	if !ok || r.BusinessID != businessID {
		return model.BookingRequest{}, model.ErrNotFound
	}
	return r, nil
}

func (m *Memory) FindRecentDuplicate(_ context.Context, businessID, email string, preferredStart *time.Time, since time.Time) (model.BookingRequest, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  model.BookingRequest
		found bool
	)
	for _, r := range m.requests {
		if r.BusinessID != businessID || !strings.EqualFold(r.CustomerEmail, email) || r.CreatedAt.Before(since) {
			continue
		}
		if !sameStart(r.PreferredStart, preferredStart) {
			continue
		}
		if !found || r.CreatedAt.After(best.CreatedAt) {
			best, found = r, true
		}
	}
	return best, found, nil
}

func sameStart(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// ListOccupyingRequests returns live requests whose preferred or proposed time touches
// [from, to). Open-ended intervals are treated as lasting up to a day.
func (m *Memory) ListOccupyingRequests(_ context.Context, businessID string, from, to time.Time) ([]model.BookingRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.BookingRequest
	for _, r := range m.requests {
		if r.BusinessID != businessID || r.Status.Terminal() {
			continue
		}
		if touches(r.PreferredStart, r.PreferredEnd, from, to) || touches(r.ProposedStart, r.ProposedEnd, from, to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func touches(start, end *time.Time, from, to time.Time) bool {
	if start == nil {
		return false
	}
	e := start.Add(24 * time.Hour)
	if end != nil {
		e = *end
	}
	return start.Before(to) && e.After(from)
}

func (m *Memory) ListRequests(_ context.Context, businessID string, status model.Status, limit int) ([]model.BookingRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.BookingRequest
	for _, r := range m.requests {
		if r.BusinessID == businessID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListRequestsCreatedSince(_ context.Context, businessID string, since time.Time) ([]model.BookingRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.BookingRequest
	for _, r := range m.requests {
		if r.BusinessID == businessID && !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Public links

func (m *Memory) GetLinkByBusiness(_ context.Context, businessID string) (model.PublicLink, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.links {
		if l.BusinessID == businessID {
			return l, true, nil
		}
	}
	return model.PublicLink{}, false, nil
}

func (m *Memory) GetLinkByCode(_ context.Context, code string) (model.PublicLink, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.links[code]
	return l, ok, nil
}

func (m *Memory) InsertLink(_ context.Context, link model.PublicLink) (model.PublicLink, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.BusinessID == link.BusinessID {
			return l, false, nil
		}
	}
	if _, taken := m.links[link.Code]; taken {
		return model.PublicLink{}, false, links.ErrCodeTaken
	}
	m.links[link.Code] = link
	return link, true, nil
}

// Calendar connections

func (m *Memory) SaveCalendarToken(_ context.Context, businessID string, source model.BusySource, token []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[businessID+"/"+string(source)] = append([]byte(nil), token...)
	return nil
}

func (m *Memory) GetCalendarToken(_ context.Context, businessID string, source model.BusySource) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[businessID+"/"+string(source)]
	return t, ok, nil
}
