package availability

import (
	"booking-engine/internal/model"
)

// OpenIntervals resolves the open time of one day from the weekly windows and that
// day's exceptions. Windows are unioned; AVAILABLE exceptions extend the result and
// BLOCKED exceptions are subtracted last, so a block always wins on the same date.
// Invalid windows or exceptions are skipped.
func OpenIntervals(day Day, windows []model.AvailabilityWindow, exceptions []model.AvailabilityException) []Interval {
	var open []Interval
	weekday := int(day.Weekday())
	for _, w := range windows {
		if !w.IsEnabled || w.DayOfWeek != weekday {
			continue
		}
		iv, err := day.Span(w.StartTime, w.EndTime)
		if err != nil {
			continue
		}
		open = append(open, iv)
	}

	date := day.String()
	var blocked []Interval
	for _, e := range exceptions {
		if e.Date != date {
			continue
		}
		iv, ok := exceptionSpan(day, e)
		if !ok {
			continue
		}
		switch e.Type {
		case model.ExceptionAvailable:
			open = append(open, iv)
		case model.ExceptionBlocked:
			blocked = append(blocked, iv)
		}
	}
	return Subtract(open, blocked)
}

func exceptionSpan(day Day, e model.AvailabilityException) (Interval, bool) {
	if e.FullDay() {
		return day.Bounds(), true
	}
	iv, err := day.Span(*e.StartTime, *e.EndTime)
	if err != nil {
		return Interval{}, false
	}
	return iv, true
}
