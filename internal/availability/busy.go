package availability

import (
	"time"

	"booking-engine/internal/model"
)

// ResolveBusy flattens busy blocks and calendar-occupying requests that touch day into
// one sorted, non-overlapping list clipped to the day. Requests without an end are
// assumed to last fallback.
func ResolveBusy(day Day, blocks []model.BusyBlock, requests []model.BookingRequest, fallback time.Duration, now time.Time) []Interval {
	bounds := day.Bounds()
	flat := make([]Interval, 0, len(blocks)+len(requests))
	for _, b := range blocks {
		if iv, ok := Clip(Interval{Start: b.Start, End: b.End}, bounds); ok {
			flat = append(flat, iv)
		}
	}
	for _, r := range requests {
		start, end, ok := r.Occupied(now, fallback)
		if !ok {
			continue
		}
		if iv, ok := Clip(Interval{Start: start, End: end}, bounds); ok {
			flat = append(flat, iv)
		}
	}
	return MergeIntervals(flat)
}
