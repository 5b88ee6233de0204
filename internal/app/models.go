package app

import (
	"time"

	"booking-engine/internal/model"
)

type exceptionsReq struct {
	// Dates to clear even when no exception for them is listed.
	Dates      []string                      `json:"dates"`
	Exceptions []model.AvailabilityException `json:"exceptions"`
}

type busyBlockReq struct {
	Start  time.Time `json:"start" binding:"required"`
	End    time.Time `json:"end" binding:"required"`
	Reason string    `json:"reason"`
}

type requestCreatedResp struct {
	Request     model.BookingRequest `json:"request"`
	IsDuplicate bool                 `json:"is_duplicate"`
}

// publicRequestResp hides the stored customer details from anonymous callers.
type publicRequestResp struct {
	ID          string       `json:"id"`
	Status      model.Status `json:"status"`
	IsDuplicate bool         `json:"is_duplicate"`
}

type linkResp struct {
	Code      string    `json:"code"`
	Slug      string    `json:"slug,omitempty"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

type publicLinkResp struct {
	BusinessID  string            `json:"business_id"`
	Source      string            `json:"source"`
	Timezone    string            `json:"timezone"`
	BookingMode model.BookingMode `json:"booking_mode"`
	MaxDaysOut  int               `json:"max_days_out"`
}
