package domain

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
)

type PaymentMethod string

const (
	PaymentCard PaymentMethod = "CARD"
	// PaymentCash is pay-at-counter: the booking starts PENDING and holds
	// its seats only until ExpiresAt.
	PaymentCash PaymentMethod = "CASH"
)

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
)

type Discount struct {
	PromotionID uuid.UUID
	Code        string
	Amount      float64
}

type Booking struct {
	ID          uuid.UUID
	Code        string
	UserID      uuid.UUID
	ShowtimeID  uuid.UUID
	MovieID     uuid.UUID
	CinemaID    uuid.UUID
	HallID      uuid.UUID
	Seats       []string
	TotalAmount float64
	Discount    *Discount
	FinalAmount float64
	Payment     PaymentMethod
	PaidStatus  PaymentStatus
	Status      BookingStatus
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// NewBooking assembles a booking against a showtime. Cash bookings start
// PENDING with an expiry; everything else is paid up front and CONFIRMED.
func NewBooking(userID uuid.UUID, st *Showtime, seats []string, total float64, discount *Discount, method PaymentMethod, holdTTL time.Duration, now time.Time) Booking {
	final := total
	if discount != nil {
		final = total - discount.Amount
	}
	b := Booking{
		ID:          uuid.New(),
		Code:        NewBookingCode(),
		UserID:      userID,
		ShowtimeID:  st.ID,
		MovieID:     st.MovieID,
		CinemaID:    st.CinemaID,
		HallID:      st.HallID,
		Seats:       seats,
		TotalAmount: total,
		Discount:    discount,
		FinalAmount: final,
		Payment:     method,
		PaidStatus:  PaymentPaid,
		Status:      BookingConfirmed,
		CreatedAt:   now,
	}
	if method == PaymentCash {
		b.PaidStatus = PaymentUnpaid
		b.Status = BookingPending
		exp := now.Add(holdTTL)
		b.ExpiresAt = &exp
	}
	return b
}

// CanTransition reports whether a booking may move from one status to
// another. COMPLETED and CANCELLED are terminal.
func CanTransition(from, to BookingStatus) bool {
	switch from {
	case BookingPending:
		return to == BookingConfirmed || to == BookingCancelled
	case BookingConfirmed:
		return to == BookingCompleted || to == BookingCancelled
	default:
		return false
	}
}

const (
	codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeDigits  = "0123456789"
)

// NewBookingCode returns the human-readable ticket code: 3 uppercase letters
// followed by 5 digits. Uniqueness is enforced by the store; a collision is a
// retryable creation failure.
func NewBookingCode() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	out := make([]byte, 8)
	for i := 0; i < 3; i++ {
		out[i] = codeLetters[int(buf[i])%len(codeLetters)]
	}
	for i := 3; i < 8; i++ {
		out[i] = codeDigits[int(buf[i])%len(codeDigits)]
	}
	return string(out)
}
