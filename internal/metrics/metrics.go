package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"booking-engine/internal/model"
)

type Range string

const (
	Range7d  Range = "7d"
	Range30d Range = "30d"
	Range90d Range = "90d"

	DefaultRange = Range30d
	Unspecified  = "unspecified"
)

var rangeDays = map[Range]int{Range7d: 7, Range30d: 30, Range90d: 90}

// ParseRange falls back to DefaultRange for anything unrecognized.
func ParseRange(s string) Range {
	if _, ok := rangeDays[Range(s)]; ok {
		return Range(s)
	}
	return DefaultRange
}

type Store interface {
	ListRequestsCreatedSince(ctx context.Context, businessID string, since time.Time) ([]model.BookingRequest, error)
	ListServices(ctx context.Context, businessID string) ([]model.Service, error)
}

type ServiceCount struct {
	ServiceID string `json:"service_id"`
	Name      string `json:"name,omitempty"`
	Count     int    `json:"count"`
}

type Metrics struct {
	BusinessID                  string               `json:"business_id"`
	Range                       Range                `json:"range"`
	From                        time.Time            `json:"from"`
	To                          time.Time            `json:"to"`
	Total                       int                  `json:"total"`
	ByStatus                    map[model.Status]int `json:"by_status"`
	ConversionRate              float64              `json:"conversion_rate"`
	MedianFirstResponseSeconds  *float64             `json:"median_first_response_seconds"`
	MedianTimeToApprovalSeconds *float64             `json:"median_time_to_approval_seconds"`
	ServicePopularity           []ServiceCount       `json:"service_popularity,omitempty"`
	HourOfDay                   []int                `json:"hour_of_day,omitempty"`
	DayOfWeek                   []int                `json:"day_of_week,omitempty"`
	Cancellations               int                  `json:"cancellations"`
	Reactivations               int                  `json:"reactivations"`
	Warnings                    []string             `json:"warnings,omitempty"`
}

type Aggregator struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewAggregator(store Store, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger, now: time.Now}
}

// WithClock replaces the wall clock the trailing range is measured from.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Aggregate computes request statistics over the trailing range from one read of the
// request history. Sub-metrics fail independently and are reported in Warnings.
func (a *Aggregator) Aggregate(ctx context.Context, settings model.BookingSettings, rng Range) (Metrics, error) {
	rng = ParseRange(string(rng))
	to := a.now().UTC()
	from := to.AddDate(0, 0, -rangeDays[rng])

	requests, err := a.store.ListRequestsCreatedSince(ctx, settings.BusinessID, from)
	if err != nil {
		return Metrics{}, model.Upstream("list booking requests", err)
	}

	m := Metrics{
		BusinessID: settings.BusinessID,
		Range:      rng,
		From:       from,
		To:         to,
		ByStatus:   map[model.Status]int{},
	}

	var firstResponse, approval []float64
	counts := map[string]int{}
	for _, r := range requests {
		if r.CreatedAt.Before(from) || r.CreatedAt.After(to) {
			continue
		}
		m.Total++
		m.ByStatus[r.Status]++
		if r.FirstRespondedAt != nil && !r.FirstRespondedAt.Before(r.CreatedAt) {
			firstResponse = append(firstResponse, r.FirstRespondedAt.Sub(r.CreatedAt).Seconds())
		}
		if r.ApprovedAt != nil && !r.ApprovedAt.Before(r.CreatedAt) {
			approval = append(approval, r.ApprovedAt.Sub(r.CreatedAt).Seconds())
		}
		if r.CancelledAt != nil {
			m.Cancellations++
		}
		if r.ReactivatedAt != nil {
			m.Reactivations++
		}
		key := Unspecified
		if r.ServiceID != nil && *r.ServiceID != "" {
			key = *r.ServiceID
		}
		counts[key]++
	}

	if m.Total > 0 {
		m.ConversionRate = float64(m.ByStatus[model.StatusApproved]) / float64(m.Total)
	}
	m.MedianFirstResponseSeconds = Median(firstResponse)
	m.MedianTimeToApprovalSeconds = Median(approval)

	a.guard(&m, "service_popularity", func() error {
		m.ServicePopularity = a.popularity(ctx, settings.BusinessID, counts, &m)
		return nil
	})
	a.guard(&m, "time_histograms", func() error {
		hours, days, err := histograms(requests, from, to, settings.Timezone)
		if err != nil {
			return err
		}
		m.HourOfDay, m.DayOfWeek = hours, days
		return nil
	})
	return m, nil
}

// guard isolates one sub-metric so a failure, panics included, only drops that field.
func (a *Aggregator) guard(m *Metrics, name string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("metric computation panicked", zap.String("metric", name), zap.Any("recover", rec))
			m.Warnings = append(m.Warnings, name+": unavailable")
		}
	}()
	if err := fn(); err != nil {
		a.logger.Warn("metric computation failed", zap.String("metric", name), zap.Error(err))
		m.Warnings = append(m.Warnings, name+": "+err.Error())
	}
}

func (a *Aggregator) popularity(ctx context.Context, businessID string, counts map[string]int, m *Metrics) []ServiceCount {
	names := map[string]string{}
	services, err := a.store.ListServices(ctx, businessID)
	if err != nil {
		a.logger.Warn("service names unavailable for popularity", zap.Error(err))
		m.Warnings = append(m.Warnings, "service_popularity: names unavailable")
	}
	for _, s := range services {
		names[s.ID] = s.Name
	}

	out := make([]ServiceCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, ServiceCount{ServiceID: id, Name: names[id], Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].ServiceID < out[j].ServiceID
		}
		return out[i].Count > out[j].Count
	})
	return out
}

func histograms(requests []model.BookingRequest, from, to time.Time, tz string) ([]int, []int, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid timezone %q", tz)
		}
		loc = l
	}
	hours := make([]int, 24)
	days := make([]int, 7)
	for _, r := range requests {
		if r.CreatedAt.Before(from) || r.CreatedAt.After(to) {
			continue
		}
		lt := r.CreatedAt.In(loc)
		hours[lt.Hour()]++
		days[int(lt.Weekday())]++
	}
	return hours, days, nil
}

// Median returns nil for no samples; even counts average the two middle values.
func Median(samples []float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	s := append([]float64(nil), samples...)
	sort.Float64s(s)
	mid := len(s) / 2
	v := s[mid]
	if len(s)%2 == 0 {
		v = (s[mid-1] + s[mid]) / 2
	}
	return &v
}
