package intake_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"booking-engine/internal/intake"
	"booking-engine/internal/model"
	"booking-engine/internal/storage"
)

type checkerFunc func(start, end time.Time, instant bool) error

func (f checkerFunc) CheckSlot(_ context.Context, _ model.BookingSettings, start, end time.Time, _ int, instant bool) error {
	return f(start, end, instant)
}

var allowAll = checkerFunc(func(time.Time, time.Time, bool) error { return nil })

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newService(t *testing.T, checker intake.SlotChecker) (*intake.Service, *storage.Memory, *clock) {
	t.Helper()
	store := storage.NewMemory()
	store.PutService(model.Service{ID: "svc-cut", BusinessID: "biz-1", Name: "Haircut", DurationMinutes: 45, Active: true})
	store.PutService(model.Service{ID: "svc-old", BusinessID: "biz-1", Name: "Retired", DurationMinutes: 30, Active: false})
	store.PutService(model.Service{ID: "svc-foreign", BusinessID: "biz-2", Name: "Other", DurationMinutes: 30, Active: true})
	c := &clock{t: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	svc := intake.New(store, checker, zap.NewNop(), intake.Options{Now: c.now})
	return svc, store, c
}

func ptr[T any](v T) *T { return &v }

func payload(start time.Time) intake.Payload {
	return intake.Payload{
		CustomerName:   "Ada Lovelace",
		CustomerEmail:  "Ada@Example.com",
		PreferredStart: &start,
	}
}

func TestCreate_DefaultsEndFromServiceDuration(t *testing.T) {
	svc, _, _ := newService(t, allowAll)
	start := time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)
	p := payload(start)
	p.ServiceID = ptr("svc-cut")

	res, err := svc.Create(context.Background(), model.DefaultSettings("biz-1"), p)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, model.StatusRequested, res.Request.Status)
	assert.Equal(t, "ada@example.com", res.Request.CustomerEmail)
	assert.Equal(t, start.Add(45*time.Minute), *res.Request.PreferredEnd)
	assert.NotEmpty(t, res.Request.ID)
}

func TestCreate_DuplicateWithinWindow(t *testing.T) {
	svc, _, c := newService(t, allowAll)
	start := time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)
	settings := model.DefaultSettings("biz-1")

	first, err := svc.Create(context.Background(), settings, payload(start))
	require.NoError(t, err)

	c.t = c.t.Add(10 * time.Minute)
	p := payload(start)
	p.CustomerEmail = "ada@example.COM"
	second, err := svc.Create(context.Background(), settings, p)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Request.ID, second.Request.ID)

	c.t = c.t.Add(31 * time.Minute)
	third, err := svc.Create(context.Background(), settings, payload(start))
	require.NoError(t, err)
	assert.False(t, third.Duplicate)
	assert.NotEqual(t, first.Request.ID, third.Request.ID)
}

func TestCreate_ConcurrentDuplicatesCollapse(t *testing.T) {
	svc, store, _ := newService(t, allowAll)
	start := time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)
	settings := model.DefaultSettings("biz-1")

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Create(context.Background(), settings, payload(start))
			if err == nil {
				ids[i] = res.Request.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	all, err := store.ListRequests(context.Background(), "biz-1", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreate_InvalidService(t *testing.T) {
	svc, _, _ := newService(t, allowAll)
	start := time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)

	for _, id := range []string{"missing", "svc-old", "svc-foreign"} {
		p := payload(start)
		p.ServiceID = ptr(id)
		_, err := svc.Create(context.Background(), model.DefaultSettings("biz-1"), p)
		assert.ErrorIs(t, err, model.ErrInvalidService, id)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _ := newService(t, allowAll)
	start := time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)
	settings := model.DefaultSettings("biz-1")

	cases := map[string]func(p *intake.Payload){
		"missing name":  func(p *intake.Payload) { p.CustomerName = "  " },
		"bad email":     func(p *intake.Payload) { p.CustomerEmail = "not-an-email" },
		"bad phone":     func(p *intake.Payload) { p.CustomerPhone = "555-1234" },
		"end not after": func(p *intake.Payload) { p.PreferredEnd = ptr(start) },
		"end only":      func(p *intake.Payload) { p.PreferredStart = nil; p.PreferredEnd = ptr(start) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := payload(start)
			mutate(&p)
			_, err := svc.Create(context.Background(), settings, p)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
}

func TestCreate_WithoutPreferredTime(t *testing.T) {
	svc, _, _ := newService(t, checkerFunc(func(time.Time, time.Time, bool) error {
		t.Fatal("no time to check")
		return nil
	}))
	p := payload(time.Time{})
	p.PreferredStart = nil
	p.CustomerPhone = "+14155552671"

	res, err := svc.Create(context.Background(), model.DefaultSettings("biz-1"), p)
	require.NoError(t, err)
	assert.Nil(t, res.Request.PreferredStart)
	assert.Equal(t, "+14155552671", res.Request.CustomerPhone)
}

func TestCreate_SlotConflictPropagates(t *testing.T) {
	svc, _, _ := newService(t, checkerFunc(func(time.Time, time.Time, bool) error {
		return model.ErrSlotUnavailable
	}))
	_, err := svc.Create(context.Background(), model.DefaultSettings("biz-1"), payload(time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)))
	assert.ErrorIs(t, err, model.ErrSlotUnavailable)
}

func TestCreate_BookingModes(t *testing.T) {
	var sawInstant bool
	svc, _, _ := newService(t, checkerFunc(func(_, _ time.Time, instant bool) error {
		sawInstant = instant
		return nil
	}))
	settings := model.DefaultSettings("biz-1")
	start := time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)

	settings.BookingMode = model.ModeDisabled
	_, err := svc.Create(context.Background(), settings, payload(start))
	assert.ErrorIs(t, err, model.ErrBookingDisabled)

	settings.BookingMode = model.ModeInstant
	p := payload(start)
	p.PreferredStart = nil
	_, err = svc.Create(context.Background(), settings, p)
	assert.ErrorIs(t, err, model.ErrValidation)

	res, err := svc.Create(context.Background(), settings, payload(start))
	require.NoError(t, err)
	assert.True(t, sawInstant)
	assert.Equal(t, model.StatusApproved, res.Request.Status)
	assert.NotNil(t, res.Request.ApprovedAt)
	assert.NotNil(t, res.Request.FirstRespondedAt)
}
