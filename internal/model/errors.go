package model

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeInvalidService    Code = "INVALID_SERVICE"
	CodeOutOfRange        Code = "OUT_OF_RANGE"
	CodeLinkNotFound      Code = "LINK_NOT_FOUND"
	CodeUpstream          Code = "UPSTREAM_UNAVAILABLE"
	CodeNotFound          Code = "NOT_FOUND"
	CodeSlotUnavailable   Code = "SLOT_UNAVAILABLE"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeBookingDisabled   Code = "BOOKING_DISABLED"
)

// Error carries a taxonomy code. errors.Is matches any *Error with the same code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrValidation        = &Error{Code: CodeValidation, Message: "invalid input"}
	ErrInvalidService    = &Error{Code: CodeInvalidService, Message: "service not found or inactive"}
	ErrOutOfRange        = &Error{Code: CodeOutOfRange, Message: "date outside bookable range"}
	ErrLinkNotFound      = &Error{Code: CodeLinkNotFound, Message: "link not found"}
	ErrUpstream          = &Error{Code: CodeUpstream, Message: "upstream unavailable"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrSlotUnavailable   = &Error{Code: CodeSlotUnavailable, Message: "requested time is not available"}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition, Message: "status transition not allowed"}
	ErrBookingDisabled   = &Error{Code: CodeBookingDisabled, Message: "booking is disabled for this business"}
)

func Validation(format string, args ...any) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a persistence or collaborator failure. Already-coded errors pass through.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return err
	}
	return &Error{Code: CodeUpstream, Message: op, Err: err}
}

func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
