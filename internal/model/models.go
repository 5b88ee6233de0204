package model

import "time"

type ExceptionType string

const (
	ExceptionBlocked   ExceptionType = "BLOCKED"
	ExceptionAvailable ExceptionType = "AVAILABLE"
)

type BusySource string

const (
	SourceManual  BusySource = "manual"
	SourceGoogle  BusySource = "google"
	SourceOutlook BusySource = "outlook"
)

type BookingMode string

const (
	ModeRequest  BookingMode = "request"
	ModeInstant  BookingMode = "instant"
	ModeDisabled BookingMode = "disabled"
)

// AvailabilityWindow is a recurring weekly open interval in business-local wall time.
type AvailabilityWindow struct {
	ID         string `json:"id"`
	BusinessID string `json:"business_id"`
	DayOfWeek  int    `json:"day_of_week"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	IsEnabled  bool   `json:"is_enabled"`
}

// AvailabilityException overrides the weekly pattern on one calendar date.
// Nil StartTime/EndTime means the whole day.
type AvailabilityException struct {
	ID         string        `json:"id"`
	BusinessID string        `json:"business_id"`
	Date       string        `json:"date"`
	StartTime  *string       `json:"start_time,omitempty"`
	EndTime    *string       `json:"end_time,omitempty"`
	Type       ExceptionType `json:"type"`
}

func (e AvailabilityException) FullDay() bool {
	return e.StartTime == nil || e.EndTime == nil
}

type BusyBlock struct {
	ID         string     `json:"id"`
	BusinessID string     `json:"business_id"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Reason     string     `json:"reason,omitempty"`
	Source     BusySource `json:"source"`
}

type BookingRequest struct {
	ID                string     `json:"id"`
	BusinessID        string     `json:"business_id"`
	ServiceID         *string    `json:"service_id,omitempty"`
	CustomerName      string     `json:"customer_name"`
	CustomerEmail     string     `json:"customer_email"`
	CustomerPhone     string     `json:"customer_phone,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	Status            Status     `json:"status"`
	PreferredStart    *time.Time `json:"preferred_start,omitempty"`
	PreferredEnd      *time.Time `json:"preferred_end,omitempty"`
	ProposedStart     *time.Time `json:"proposed_start,omitempty"`
	ProposedEnd       *time.Time `json:"proposed_end,omitempty"`
	ProposalExpiresAt *time.Time `json:"proposal_expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	FirstRespondedAt  *time.Time `json:"first_responded_at,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	ReactivatedAt     *time.Time `json:"reactivated_at,omitempty"`
}

type Service struct {
	ID              string `json:"id"`
	BusinessID      string `json:"business_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Active          bool   `json:"active"`
}

type BookingSettings struct {
	BusinessID             string      `json:"business_id"`
	Timezone               string      `json:"timezone"`
	BufferMinutes          int         `json:"buffer_minutes"`
	MinNoticeHours         int         `json:"min_notice_hours"`
	MaxDaysOut             int         `json:"max_days_out"`
	DefaultDurationMinutes int         `json:"default_duration_minutes"`
	BookingMode            BookingMode `json:"booking_mode"`
}

// DefaultSettings is what an unconfigured business gets.
func DefaultSettings(businessID string) BookingSettings {
	return BookingSettings{
		BusinessID:             businessID,
		Timezone:               "UTC",
		MaxDaysOut:             60,
		DefaultDurationMinutes: 30,
		BookingMode:            ModeRequest,
	}
}

type PublicLink struct {
	BusinessID string    `json:"business_id"`
	Code       string    `json:"code"`
	Slug       string    `json:"slug,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Business is the tenant row. LegacyKey is the 64-hex key older public links carry.
type Business struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	LegacyKey string `json:"-"`
}
