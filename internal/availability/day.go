package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"booking-engine/internal/model"
)

const DateLayout = "2006-01-02"

// Day is one calendar date in a business timezone. It is the single place where
// wall-clock values become absolute instants.
type Day struct {
	Year  int
	Month time.Month
	Dom   int
	Loc   *time.Location
}

func ParseDay(s string, loc *time.Location) (Day, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return Day{}, model.Validation("invalid date %q, expected YYYY-MM-DD", s)
	}
	return Day{Year: t.Year(), Month: t.Month(), Dom: t.Day(), Loc: loc}, nil
}

// DayOf returns the local calendar day containing t.
func DayOf(t time.Time, loc *time.Location) Day {
	lt := t.In(loc)
	return Day{Year: lt.Year(), Month: lt.Month(), Dom: lt.Day(), Loc: loc}
}

func (d Day) Start() time.Time {
	return time.Date(d.Year, d.Month, d.Dom, 0, 0, 0, 0, d.Loc)
}

// End is the next local midnight, so a 23h or 25h DST day has the right length.
func (d Day) End() time.Time {
	return time.Date(d.Year, d.Month, d.Dom+1, 0, 0, 0, 0, d.Loc)
}

func (d Day) Bounds() Interval {
	return Interval{Start: d.Start(), End: d.End()}
}

func (d Day) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Dom, 12, 0, 0, 0, time.UTC).Weekday()
}

func (d Day) AddDays(n int) Day {
	t := time.Date(d.Year, d.Month, d.Dom+n, 12, 0, 0, 0, time.UTC)
	return Day{Year: t.Year(), Month: t.Month(), Dom: t.Day(), Loc: d.Loc}
}

func (d Day) After(o Day) bool {
	if d.Year != o.Year {
		return d.Year > o.Year
	}
	if d.Month != o.Month {
		return d.Month > o.Month
	}
	return d.Dom > o.Dom
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Dom)
}

// At converts an "HH:mm" wall-clock value on this day to an instant. "24:00" is the next midnight.
func (d Day) At(clock string) (time.Time, error) {
	h, m, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	if h == 24 {
		return d.End(), nil
	}
	return time.Date(d.Year, d.Month, d.Dom, h, m, 0, 0, d.Loc), nil
}

// Span converts a wall-clock range on this day into an interval.
func (d Day) Span(start, end string) (Interval, error) {
	s, err := d.At(start)
	if err != nil {
		return Interval{}, err
	}
	e, err := d.At(end)
	if err != nil {
		return Interval{}, err
	}
	if !e.After(s) {
		return Interval{}, model.Validation("end time %s must be after start time %s", end, start)
	}
	return Interval{Start: s, End: e}, nil
}

// ParseClock accepts "HH:mm" and tolerates a trailing seconds part ("09:00:00") as stored by postgres time columns.
func ParseClock(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	if len(s) < 5 || s[2] != ':' {
		return 0, 0, model.Validation("invalid time %q, expected HH:mm", s)
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil {
		return 0, 0, model.Validation("invalid time %q, expected HH:mm", s)
	}
	m, err := strconv.Atoi(s[3:5])
	if err != nil {
		return 0, 0, model.Validation("invalid time %q, expected HH:mm", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, 0, model.Validation("invalid time %q, expected HH:mm", s)
	}
	return h, m, nil
}

const (
	MaxBufferMinutes   = 24 * 60
	MaxNoticeHours     = 24 * 365
	MaxDaysOut         = 3650
	MaxDurationMinutes = 24 * 60
)

// ValidateBounds keeps the numeric settings small enough that every derived
// time.Duration fits in int64.
func ValidateBounds(s model.BookingSettings) error {
	if s.BufferMinutes < 0 || s.BufferMinutes > MaxBufferMinutes {
		return model.Validation("buffer_minutes must be between 0 and %d", MaxBufferMinutes)
	}
	if s.MinNoticeHours < 0 || s.MinNoticeHours > MaxNoticeHours {
		return model.Validation("min_notice_hours must be between 0 and %d", MaxNoticeHours)
	}
	if s.MaxDaysOut < 0 || s.MaxDaysOut > MaxDaysOut {
		return model.Validation("max_days_out must be between 0 and %d", MaxDaysOut)
	}
	return nil
}

// ValidateWindow checks a weekly window without resolving it to a date.
func ValidateWindow(w model.AvailabilityWindow) error {
	if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
		return model.Validation("day_of_week must be 0-6, got %d", w.DayOfWeek)
	}
	sh, sm, err := ParseClock(w.StartTime)
	if err != nil {
		return err
	}
	eh, em, err := ParseClock(w.EndTime)
	if err != nil {
		return err
	}
	if eh*60+em <= sh*60+sm {
		return model.Validation("end_time must be after start_time for day %d", w.DayOfWeek)
	}
	return nil
}

// ValidateException checks an exception's date, type and optional partial range.
func ValidateException(e model.AvailabilityException) error {
	if _, err := time.Parse(DateLayout, e.Date); err != nil {
		return model.Validation("invalid exception date %q", e.Date)
	}
	if e.Type != model.ExceptionBlocked && e.Type != model.ExceptionAvailable {
		return model.Validation("invalid exception type %q", e.Type)
	}
	if (e.StartTime == nil) != (e.EndTime == nil) {
		return model.Validation("exception start_time and end_time must be set together")
	}
	if e.FullDay() {
		return nil
	}
	sh, sm, err := ParseClock(*e.StartTime)
	if err != nil {
		return err
	}
	eh, em, err := ParseClock(*e.EndTime)
	if err != nil {
		return err
	}
	if eh*60+em <= sh*60+sm {
		return model.Validation("exception end_time must be after start_time")
	}
	return nil
}

// LoadLocation resolves a settings timezone, treating blank as UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, model.Validation("invalid timezone %q", name)
	}
	return loc, nil
}
