package model

import (
	"errors"
	"fmt"
)

// Kind is the stable class of an engine error.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindPolicy         Kind = "policy_violation"
	KindAuthorization  Kind = "authorization"
	KindRollbackFailed Kind = "rollback_failed"
	KindPersistence    Kind = "persistence"
)

// Error is a classified engine error. Instances below are sentinels and are
// compared with errors.Is; call sites add context with fmt.Errorf("%w: ...").
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidDate    = newError(KindValidation, "invalid_date", "date must use the YYYY-MM-DD format")
	ErrInvalidIndex   = newError(KindValidation, "invalid_index", "slot index must be between 0 and 47")
	ErrInvalidService = newError(KindValidation, "invalid_service", "unknown service")
	ErrInvalidInput   = newError(KindValidation, "invalid_input", "invalid input")
	ErrEmptyFilter    = newError(KindValidation, "empty_filter", "purge requires at least one filter criterion")

	ErrDayNotFound = newError(KindNotFound, "day_not_found", "no schedule exists for this date")
	ErrClosedDay   = newError(KindNotFound, "closed_day", "the shop does not operate on this weekday")
	ErrOutOfRange  = newError(KindNotFound, "out_of_range", "slot index out of range")

	ErrSlotUnavailable        = newError(KindConflict, "slot_unavailable", "slot is not available")
	ErrNotReserved            = newError(KindConflict, "not_reserved", "slot has no reservation")
	ErrSlotReserved           = newError(KindConflict, "slot_reserved", "slot is reserved by a client")
	ErrNotBlocked             = newError(KindConflict, "not_blocked", "slot is not blocked")
	ErrSlotInPast             = newError(KindConflict, "slot_in_past", "slot already started")
	ErrConcurrentModification = newError(KindConflict, "concurrent_modification", "slot was modified concurrently")

	ErrLeadTimeTooShort      = newError(KindPolicy, "lead_time_too_short", "slot starts too soon to be booked")
	ErrBookingWindowExceeded = newError(KindPolicy, "booking_window_exceeded", "slot is beyond the booking window")
	ErrBookingLimitExceeded  = newError(KindPolicy, "booking_limit_exceeded", "active reservation limit reached")
	ErrFeeNotConfirmed       = newError(KindPolicy, "fee_not_confirmed", "late cancellation fee was not confirmed")

	ErrNotOwner      = newError(KindAuthorization, "not_owner", "reservation belongs to another user")
	ErrUserBanned    = newError(KindAuthorization, "user_banned", "user is banned")
	ErrAdminRequired = newError(KindAuthorization, "admin_required", "administrator access required")

	ErrRollbackFailed = newError(KindRollbackFailed, "rollback_failed", "combo rollback failed; manual reconciliation required")

	ErrPersistence = newError(KindPersistence, "persistence", "storage failure")
)

// KindOf returns the Kind of the first classified error in err's chain.
// Unclassified errors report an empty Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError returns the first classified error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Persistence tags a raw storage error with ErrPersistence. Classified
// errors pass through unchanged.
func Persistence(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
