package model

import "time"

type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusApproved  Status = "APPROVED"
	StatusDeclined  Status = "DECLINED"
	StatusCancelled Status = "CANCELLED"
	StatusProposed  Status = "PROPOSED"
)

var transitions = map[Status][]Status{
	StatusRequested: {StatusApproved, StatusDeclined, StatusProposed},
	StatusApproved:  {StatusCancelled, StatusProposed},
	StatusDeclined:  {StatusProposed},
	StatusCancelled: {StatusProposed},
	StatusProposed:  {StatusApproved, StatusDeclined, StatusProposed},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether the status frees its calendar time.
func (s Status) Terminal() bool {
	return s == StatusDeclined || s == StatusCancelled
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Occupied returns the interval the request holds on the calendar at now, if any.
// fallback is used when the request carries a start without an end.
func (r BookingRequest) Occupied(now time.Time, fallback time.Duration) (time.Time, time.Time, bool) {
	switch r.Status {
	case StatusRequested:
		return span(r.PreferredStart, r.PreferredEnd, fallback)
	case StatusApproved:
		if r.ProposedStart != nil {
			return span(r.ProposedStart, r.ProposedEnd, fallback)
		}
		return span(r.PreferredStart, r.PreferredEnd, fallback)
	case StatusProposed:
		if r.ProposalExpiresAt != nil && !now.Before(*r.ProposalExpiresAt) {
			return time.Time{}, time.Time{}, false
		}
		return span(r.ProposedStart, r.ProposedEnd, fallback)
	}
	return time.Time{}, time.Time{}, false
}

func span(start, end *time.Time, fallback time.Duration) (time.Time, time.Time, bool) {
	if start == nil {
		return time.Time{}, time.Time{}, false
	}
	e := start.Add(fallback)
	if end != nil {
		e = *end
	}
	if !e.After(*start) {
		return time.Time{}, time.Time{}, false
	}
	return *start, e, true
}
