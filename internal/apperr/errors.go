// Package apperr defines the error categories shared by the booking engine.
// Domain packages wrap these sentinels with fmt.Errorf("%w: ...") so callers
// can classify failures with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for an unknown provider, booking or token.
	ErrNotFound = errors.New("not found")

	// ErrState is returned when an operation is invalid for the booking's current status.
	ErrState = errors.New("invalid booking state")

	// ErrExpiredToken is returned when a verification token is past its expiry.
	ErrExpiredToken = errors.New("verification token expired")

	// ErrSlotUnavailable is returned when the requested slot is not in the freshly computed set.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrDateOutOfWindow is returned when a date is before today or beyond the booking horizon.
	ErrDateOutOfWindow = errors.New("date out of booking window")

	// ErrExternalDegraded marks calendar or notification failures. Callers log and continue.
	ErrExternalDegraded = errors.New("external service degraded")
)

// Validation wraps ErrValidation with a user-facing detail.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound naming the missing entity.
func NotFound(entity string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, entity)
}

// State wraps ErrState with a user-facing detail.
func State(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}

// Degraded wraps an external failure so it classifies as ErrExternalDegraded
// while keeping the cause in the chain.
func Degraded(service string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrExternalDegraded, service)
	}
	return fmt.Errorf("%w: %s: %w", ErrExternalDegraded, service, cause)
}

// IsUserFacing reports whether err belongs to a category whose message may be
// shown to the caller as-is.
func IsUserFacing(err error) bool {
	for _, target := range []error{ErrValidation, ErrNotFound, ErrState, ErrExpiredToken, ErrSlotUnavailable, ErrDateOutOfWindow} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// HTTPStatus maps an error category to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrExpiredToken):
		return http.StatusGone
	case errors.Is(err, ErrState), errors.Is(err, ErrSlotUnavailable):
		return http.StatusConflict
	case errors.Is(err, ErrDateOutOfWindow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a short machine-readable code for the error category.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, ErrState):
		return "state_error"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrDateOutOfWindow):
		return "date_out_of_window"
	default:
		return "internal_error"
	}
}
