package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/filmgate/cinema-booking/internal/domain"
)

// Tx is the set of mutations available inside one atomic unit. Every effect
// applied through a Tx is committed or rolled back as a whole by WithTx.
type Tx interface {
	// HoldSeats moves seats from available to booked. All seats hold or none
	// do; a seat that is missing or already booked fails the call with
	// domain.ErrSeatUnavailable naming the seat.
	HoldSeats(ctx context.Context, showtimeID uuid.UUID, seats []string) error
	// ReleaseSeats returns seats to availability. Releasing an already-free
	// seat is a no-op, not an error.
	ReleaseSeats(ctx context.Context, showtimeID uuid.UUID, seats []string) error
	InsertBooking(ctx context.Context, b domain.Booking) error
	// UpdateBookingStatus is conditional on the current status; a stale
	// precondition fails with domain.ErrInvalidTransition.
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) error
	MarkBookingPaid(ctx context.Context, id uuid.UUID) error
	// DeleteBooking removes a booking only while it is still pending and
	// reports whether a row was removed. A false result means the booking
	// was confirmed, cancelled, or already cleaned up concurrently; callers
	// deciding whether to release seats must check it.
	DeleteBooking(ctx context.Context, id uuid.UUID) (bool, error)
	// IncrementPromotionUsage fails with domain.ErrPromotionExhausted once
	// the usage limit is reached.
	IncrementPromotionUsage(ctx context.Context, id uuid.UUID) error
	AppendEvent(ctx context.Context, eventType string, b domain.Booking) error
}

// Store is the persistence surface the coordinator and reclaimer run on.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Showtime(ctx context.Context, id uuid.UUID) (*domain.Showtime, error)
	Booking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	PromotionByCode(ctx context.Context, code string) (*domain.Promotion, error)
	SeatsSnapshot(ctx context.Context, showtimeID uuid.UUID) (available, booked []string, err error)
	ExpiredPendingBookings(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
	CreateShowtime(ctx context.Context, st domain.Showtime, seats []string) error
	// DeleteShowtime is refused once any booking has ever referenced the
	// showtime, even if that booking has since expired and been removed.
	DeleteShowtime(ctx context.Context, id uuid.UUID) error
}

// SeatLocker is the fast-path lock taken before the database transaction.
// LockSeats returns the first seat it could not lock, or "" when all locks
// were taken.
type SeatLocker interface {
	LockSeats(ctx context.Context, showtimeID uuid.UUID, seats []string, owner string, ttl time.Duration) (string, error)
	UnlockSeats(ctx context.Context, showtimeID uuid.UUID, seats []string)
}

// Catalog resolves hall seat layouts at showtime-creation time.
type Catalog interface {
	HallSeats(ctx context.Context, hallID uuid.UUID) ([]string, error)
}

// Auditor records actions best-effort, outside the transaction boundary.
type Auditor interface {
	Record(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{})
}
