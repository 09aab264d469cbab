package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrForbidden            = errors.New("forbidden")

	ErrSeatUnavailable        = errors.New("seat unavailable")
	ErrShowtimeClosed         = errors.New("showtime not open for sale")
	ErrShowtimeStarted        = errors.New("showtime already started")
	ErrShowtimeHasBookings    = errors.New("showtime has bookings")
	ErrInvalidTransition      = errors.New("invalid booking status transition")
	ErrPromotionInvalid       = errors.New("promotion invalid")
	ErrPromotionNotApplicable = errors.New("promotion not applicable")
	ErrPromotionExhausted     = errors.New("promotion usage limit reached")
	ErrBookingCodeCollision   = errors.New("booking code collision")

	// ErrTransientConflict is returned when the reservation critical section
	// could not be committed within the allowed attempts. Safe to retry.
	ErrTransientConflict = errors.New("transient conflict, try again")
)

// SeatError wraps ErrSeatUnavailable with the first conflicting seat label.
func SeatError(seat string) error {
	return fmt.Errorf("%w: %s", ErrSeatUnavailable, seat)
}
