package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"booking-engine/internal/events"
	"booking-engine/internal/model"
	"booking-engine/internal/ratelimit"
	"booking-engine/internal/storage"
)

const (
	testSecret = "test-secret"
	opsToken   = "ops-token"
)

// Thursday; 2026-10-19 is the following Monday.
var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu   sync.Mutex
	sent []events.RequestCreated
}

func (p *recordingPublisher) PublishRequestCreated(_ context.Context, evt events.RequestCreated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type fixture struct {
	app    *App
	store  *storage.Memory
	events *recordingPublisher
	router *gin.Engine
}

func newFixture(t *testing.T, limiter ratelimit.Store) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemory()
	store.PutBusiness(model.Business{ID: "biz-1", Name: "Sunny Salon"})
	store.PutService(model.Service{ID: "svc-cut", BusinessID: "biz-1", Name: "Haircut", DurationMinutes: 60, Active: true})
	_, err := store.ReplaceWindows(context.Background(), "biz-1", []model.AvailabilityWindow{
		{BusinessID: "biz-1", DayOfWeek: 1, StartTime: "09:00", EndTime: "11:00", IsEnabled: true},
	})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	a := New(store, zap.NewNop(), Options{
		Auth:    AuthConfig{JWTSecret: testSecret, StaticTokens: []string{opsToken}},
		Events:  pub,
		Limiter: limiter,
		Now:     func() time.Time { return testNow },
	})
	return &fixture{app: a, store: store, events: pub, router: a.Router()}
}

func businessToken(t *testing.T, businessID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"business_id": businessID,
		"exp":         time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func requestBody(email string, start time.Time) map[string]any {
	return map[string]any{
		"customer_name":   "Grace Hopper",
		"customer_email":  email,
		"preferred_start": start.Format(time.RFC3339),
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyz_ReportsFailingCheck(t *testing.T) {
	f := newFixture(t, nil)
	f.app.Ready = []ReadyCheck{{Name: "kafka", Check: func(context.Context) error { return errors.New("no brokers") }}}

	w := f.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[map[string]any](t, w)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["store"])
	assert.Equal(t, "unavailable", checks["kafka"])
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t, nil)
	path := "/api/businesses/biz-1/settings"

	tests := []struct {
		name  string
		token string
		code  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not-a-token", http.StatusUnauthorized},
		{"other business", businessToken(t, "biz-2"), http.StatusForbidden},
		{"own business", businessToken(t, "biz-1"), http.StatusOK},
		{"static operator token", opsToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, path, tt.token, nil)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestSlots(t *testing.T) {
	f := newFixture(t, nil)
	tok := businessToken(t, "biz-1")

	w := f.do(t, http.MethodGet, "/api/businesses/biz-1/slots?date=2026-10-19", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decode[SlotList](t, w)
	assert.Equal(t, 30, list.DurationMinutes)
	require.Len(t, list.Slots, 4)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), list.Slots[0].Start)
	assert.Equal(t, time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC), list.Slots[3].End)

	w = f.do(t, http.MethodGet, "/api/businesses/biz-1/slots?date=2026-10-19&service_id=svc-cut", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[SlotList](t, w).Slots, 2)

	w = f.do(t, http.MethodGet, "/api/businesses/biz-1/slots?date=2026-10-19&service_id=missing", tok, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), string(model.CodeInvalidService))

	w = f.do(t, http.MethodGet, "/api/businesses/biz-1/slots", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSlots_OutOfRangeShape(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/api/businesses/biz-1/slots?date=2027-06-01", opsToken, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t, `{"slots": [], "reason": "OUT_OF_RANGE"}`, w.Body.String())
}

func TestBusyBlocks_HideSlotsAndDelete(t *testing.T) {
	f := newFixture(t, nil)
	tok := businessToken(t, "biz-1")

	w := f.do(t, http.MethodPost, "/api/businesses/biz-1/busy-blocks", tok, map[string]any{
		"start": "2026-10-19T09:00:00Z", "end": "2026-10-19T10:00:00Z", "reason": "dentist",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	block := decode[model.BusyBlock](t, w)
	assert.Equal(t, model.SourceManual, block.Source)
	assert.NotEmpty(t, block.ID)

	w = f.do(t, http.MethodGet, "/api/businesses/biz-1/slots?date=2026-10-19", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[SlotList](t, w).Slots, 2)

	w = f.do(t, http.MethodDelete, "/api/businesses/biz-1/busy-blocks/"+block.ID, tok, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodDelete, "/api/businesses/biz-1/busy-blocks/"+block.ID, tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/businesses/biz-1/busy-blocks", tok, map[string]any{
		"start": "2026-10-19T10:00:00Z", "end": "2026-10-19T09:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAvailability_RejectsWholeSetOnBadWindow(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodPut, "/api/businesses/biz-1/availability", opsToken, []map[string]any{
		{"day_of_week": 2, "start_time": "09:00", "end_time": "12:00", "is_enabled": true},
		{"day_of_week": 3, "start_time": "12:00", "end_time": "09:00", "is_enabled": true},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/businesses/biz-1/availability", opsToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	windows := decode[[]model.AvailabilityWindow](t, w)
	require.Len(t, windows, 1)
	assert.Equal(t, 1, windows[0].DayOfWeek)
}

func TestCreateRequest_DuplicateAndConflict(t *testing.T) {
	f := newFixture(t, nil)
	tok := businessToken(t, "biz-1")
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	w := f.do(t, http.MethodPost, "/api/businesses/biz-1/requests", tok, requestBody("grace@example.com", start))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[requestCreatedResp](t, w)
	assert.False(t, first.IsDuplicate)
	assert.Equal(t, model.StatusRequested, first.Request.Status)

	w = f.do(t, http.MethodPost, "/api/businesses/biz-1/requests", tok, requestBody("GRACE@example.com", start))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode[requestCreatedResp](t, w)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, first.Request.ID, second.Request.ID)

	w = f.do(t, http.MethodPost, "/api/businesses/biz-1/requests", tok,
		requestBody("someone@example.com", start.Add(15*time.Minute)))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), string(model.CodeSlotUnavailable))

	assert.Eventually(t, func() bool { return f.events.count() == 1 }, time.Second, 10*time.Millisecond)
	f.events.mu.Lock()
	assert.Equal(t, first.Request.ID, f.events.sent[0].RequestID)
	f.events.mu.Unlock()
}

func TestCreateRequest_BookingDisabled(t *testing.T) {
	f := newFixture(t, nil)
	s := model.DefaultSettings("biz-1")
	s.BookingMode = model.ModeDisabled
	require.NoError(t, f.store.UpsertSettings(context.Background(), s))

	w := f.do(t, http.MethodPost, "/api/businesses/biz-1/requests", opsToken,
		requestBody("grace@example.com", time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), string(model.CodeBookingDisabled))
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, nil)
	tok := businessToken(t, "biz-1")

	w := f.do(t, http.MethodPost, "/api/businesses/biz-1/requests", tok,
		requestBody("grace@example.com", time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[requestCreatedResp](t, w).Request.ID
	path := "/api/businesses/biz-1/requests/" + id + "/status"

	w = f.do(t, http.MethodPost, path, tok, map[string]any{"status": "APPROVED"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	approved := decode[model.BookingRequest](t, w)
	assert.Equal(t, model.StatusApproved, approved.Status)
	assert.NotNil(t, approved.ApprovedAt)

	w = f.do(t, http.MethodPost, path, tok, map[string]any{"status": "DECLINED"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), string(model.CodeInvalidTransition))

	w = f.do(t, http.MethodPost, path, tok, map[string]any{"status": "BOGUS"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/businesses/biz-1/requests/nope/status", tok, map[string]any{"status": "APPROVED"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/businesses/biz-1/requests?status=APPROVED", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.BookingRequest](t, w), 1)

	w = f.do(t, http.MethodGet, "/api/businesses/biz-1/requests?limit=abc", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodPost, "/api/businesses/biz-1/requests", opsToken,
		requestBody("grace@example.com", time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)))
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/api/businesses/biz-1/metrics?range=7d", opsToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	assert.Equal(t, "7d", body["range"])
	assert.EqualValues(t, 1, body["total"])
}

func TestPublicLinkFlow(t *testing.T) {
	f := newFixture(t, nil)
	tok := businessToken(t, "biz-1")

	w := f.do(t, http.MethodPut, "/api/businesses/biz-1/settings", tok, map[string]any{
		"timezone": "UTC", "max_days_out": 30, "default_duration_minutes": 30, "booking_mode": "request",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/businesses/biz-1/link", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	link := decode[linkResp](t, w)
	assert.Equal(t, "sunny-salon", link.Slug)
	assert.True(t, strings.HasPrefix(link.Token, "sunny-salon-"))

	w = f.do(t, http.MethodGet, "/public/links/"+link.Token, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	info := decode[publicLinkResp](t, w)
	assert.Equal(t, "biz-1", info.BusinessID)
	assert.Equal(t, 30, info.MaxDaysOut)

	w = f.do(t, http.MethodGet, "/public/links/"+link.Code+"/slots?date=2026-10-19", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[SlotList](t, w).Slots, 4)

	w = f.do(t, http.MethodPost, "/public/links/"+link.Token+"/requests", "",
		requestBody("grace@example.com", time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "grace@example.com")

	w = f.do(t, http.MethodGet, "/public/links/unknown-zzzzzz", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), string(model.CodeLinkNotFound))
}

func TestPublicRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, ratelimit.NewRedis(rdb, 2, "test:rl"))
	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodGet, "/public/links/abcdefgh", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
	w := f.do(t, http.MethodGet, "/public/links/abcdefgh", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Limiter outages let traffic through.
	mr.Close()
	w = f.do(t, http.MethodGet, "/public/links/abcdefgh", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckSlot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	monday9 := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	instant := model.DefaultSettings("biz-1")
	instant.BookingMode = model.ModeInstant

	t.Run("instant on offered slot", func(t *testing.T) {
		assert.NoError(t, f.app.CheckSlot(ctx, instant, monday9, monday9.Add(30*time.Minute), 30, true))
	})
	t.Run("instant off grid", func(t *testing.T) {
		s := monday9.Add(10 * time.Minute)
		err := f.app.CheckSlot(ctx, instant, s, s.Add(30*time.Minute), 30, true)
		assert.ErrorIs(t, err, model.ErrSlotUnavailable)
	})
	t.Run("instant with wrong length", func(t *testing.T) {
		err := f.app.CheckSlot(ctx, instant, monday9, monday9.Add(45*time.Minute), 30, true)
		assert.ErrorIs(t, err, model.ErrSlotUnavailable)
	})
	t.Run("instant beyond horizon", func(t *testing.T) {
		far := time.Date(2027, 6, 7, 9, 0, 0, 0, time.UTC)
		err := f.app.CheckSlot(ctx, instant, far, far.Add(30*time.Minute), 30, true)
		assert.ErrorIs(t, err, model.ErrSlotUnavailable)
	})

	_, err := f.app.CreateBusyBlock(ctx, "biz-1", model.BusyBlock{Start: monday9.Add(time.Hour), End: monday9.Add(2 * time.Hour)})
	require.NoError(t, err)
	request := model.DefaultSettings("biz-1")

	t.Run("request overlapping busy time", func(t *testing.T) {
		s := monday9.Add(90 * time.Minute)
		err := f.app.CheckSlot(ctx, request, s, s.Add(30*time.Minute), 30, false)
		assert.ErrorIs(t, err, model.ErrSlotUnavailable)
	})
	t.Run("request outside windows is allowed", func(t *testing.T) {
		s := monday9.Add(6 * time.Hour)
		assert.NoError(t, f.app.CheckSlot(ctx, request, s, s.Add(30*time.Minute), 30, false))
	})
}

func TestCalendarRoutesUnconfigured(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/calendar/auth?business_id=biz-1", opsToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodPost, "/api/businesses/biz-1/calendar/sync", opsToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOAuthState(t *testing.T) {
	f := newFixture(t, nil)

	state, err := f.app.signState("biz-1")
	require.NoError(t, err)
	biz, err := f.app.parseState(state)
	require.NoError(t, err)
	assert.Equal(t, "biz-1", biz)

	_, err = f.app.parseState(businessToken(t, "biz-1"))
	assert.Error(t, err)

	f.app.now = func() time.Time { return testNow.Add(stateTTL + time.Minute) }
	_, err = f.app.parseState(state)
	assert.Error(t, err)
}

func TestSettings_RejectsOversizedValues(t *testing.T) {
	f := newFixture(t, nil)
	for _, body := range []map[string]any{
		{"buffer_minutes": 153722868},
		{"min_notice_hours": 3000000},
		{"max_days_out": 100000},
		{"default_duration_minutes": 2000},
	} {
		w := f.do(t, http.MethodPut, "/api/businesses/biz-1/settings", opsToken, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	// Rows written before the bounds existed must not stall slot listing.
	s := model.DefaultSettings("biz-1")
	s.BufferMinutes = 153722868
	require.NoError(t, f.store.UpsertSettings(context.Background(), s))

	w := f.do(t, http.MethodGet, "/api/businesses/biz-1/slots?date=2026-10-19", opsToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthentication_RejectsOAuthState(t *testing.T) {
	f := newFixture(t, nil)
	state, err := f.app.signState("biz-1")
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/businesses/biz-1/requests", state, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimit_IgnoresForwardedHeadersFromUntrustedPeers(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemory(2))

	limited := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/public/links/abcdefgh", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 18, limited)
}

func TestRateLimit_HonorsForwardedHeadersFromTrustedProxy(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemory(1))
	f.app.TrustedProxies = []string{"192.0.2.1"}
	f.router = f.app.Router()

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodGet, "/public/links/abcdefgh", nil)
		req.RemoteAddr = "192.0.2.1:4321"
		req.Header.Set("X-Forwarded-For", client)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusNotFound, send("203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.7"))
	assert.Equal(t, http.StatusNotFound, send("203.0.113.8"))
}

func TestCreateRequest_RejectsPastAndFarStarts(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/businesses/biz-1/requests", opsToken,
		requestBody("grace@example.com", testNow.Add(-time.Hour)))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), string(model.CodeOutOfRange))

	w = f.do(t, http.MethodPost, "/api/businesses/biz-1/requests", opsToken,
		requestBody("grace@example.com", testNow.AddDate(0, 0, 61)))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), string(model.CodeOutOfRange))

	w = f.do(t, http.MethodPost, "/api/businesses/biz-1/requests", opsToken,
		requestBody("grace@example.com", testNow.AddDate(0, 0, 60)))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}
