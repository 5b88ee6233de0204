package availability

import (
	"sort"
	"time"
)

// Interval is a half-open [Start, End) span of absolute time.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (iv Interval) Valid() bool {
	return iv.End.After(iv.Start)
}

// Overlaps uses half-open semantics: [a,b) and [c,d) overlap iff a < d && c < b.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

func (iv Interval) Contains(o Interval) bool {
	return !o.Start.Before(iv.Start) && !o.End.After(iv.End)
}

// MergeIntervals sorts by start and folds touching or overlapping spans together.
// Invalid (empty or inverted) intervals are dropped. The input is not modified.
func MergeIntervals(in []Interval) []Interval {
	b := make([]Interval, 0, len(in))
	for _, iv := range in {
		if iv.Valid() {
			b = append(b, iv)
		}
	}
	if len(b) == 0 {
		return nil
	}
	sort.Slice(b, func(i, j int) bool {
		if b[i].Start.Equal(b[j].Start) {
			return b[i].End.Before(b[j].End)
		}
		return b[i].Start.Before(b[j].Start)
	})

	merged := make([]Interval, 0, len(b))
	for _, cur := range b {
		if len(merged) == 0 {
			merged = append(merged, cur)
			continue
		}
		last := &merged[len(merged)-1]
		if cur.Start.After(last.End) {
			merged = append(merged, cur)
			continue
		}
		if cur.End.After(last.End) {
			last.End = cur.End
		}
	}
	return merged
}

// Subtract removes every cut span from base. Both sides are merged first, so the
// result is sorted and non-overlapping.
func Subtract(base, cut []Interval) []Interval {
	base = MergeIntervals(base)
	cut = MergeIntervals(cut)
	if len(cut) == 0 {
		return base
	}

	var out []Interval
	for _, b := range base {
		cursor := b.Start
		for _, c := range cut {
			if !c.End.After(cursor) {
				continue
			}
			if !c.Start.Before(b.End) {
				break
			}
			if c.Start.After(cursor) {
				out = append(out, Interval{Start: cursor, End: c.Start})
			}
			if c.End.After(cursor) {
				cursor = c.End
			}
		}
		if b.End.After(cursor) {
			out = append(out, Interval{Start: cursor, End: b.End})
		}
	}
	return out
}

// Clip trims iv to bounds; ok is false when nothing is left.
func Clip(iv, bounds Interval) (Interval, bool) {
	if iv.Start.Before(bounds.Start) {
		iv.Start = bounds.Start
	}
	if iv.End.After(bounds.End) {
		iv.End = bounds.End
	}
	return iv, iv.Valid()
}
