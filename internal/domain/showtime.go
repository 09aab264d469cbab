package domain

import (
	"time"

	"github.com/google/uuid"
)

type ShowtimeStatus string

const (
	ShowtimeOpen     ShowtimeStatus = "OPEN"
	ShowtimeCanceled ShowtimeStatus = "CANCELED"
	ShowtimeSoldOut  ShowtimeStatus = "SOLD_OUT"
	ShowtimeClosed   ShowtimeStatus = "CLOSED"
)

// Showtime is one scheduled screening. The hall's seat labels are partitioned
// into available and booked; the two sets are disjoint and their union is the
// full hall layout for the lifetime of the showtime.
type Showtime struct {
	ID       uuid.UUID
	MovieID  uuid.UUID
	CinemaID uuid.UUID
	HallID   uuid.UUID
	StartsAt time.Time
	EndsAt   time.Time
	Price    float64
	Format   string
	Language string
	Status   ShowtimeStatus
}

// OpenForSale reports whether new reservations may be taken at the given time.
func (s *Showtime) OpenForSale(now time.Time) error {
	if s.Status != ShowtimeOpen {
		return ErrShowtimeClosed
	}
	if !now.Before(s.StartsAt) {
		return ErrShowtimeStarted
	}
	return nil
}
