// Package bookingtest provides in-memory implementations of the booking
// ports for tests. The store applies transactional mutations to a staged
// copy of its state and swaps it in on commit, so a failed transaction
// leaves no partial effects, matching the contract of the real adapter.
package bookingtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filmgate/cinema-booking/internal/booking"
	"github.com/filmgate/cinema-booking/internal/domain"
)

const (
	seatFree   = "FREE"
	seatBooked = "BOOKED"
)

type Event struct {
	Type    string
	Booking domain.Booking
}

type state struct {
	showtimes  map[uuid.UUID]domain.Showtime
	seats      map[uuid.UUID]map[string]string
	bookings   map[uuid.UUID]domain.Booking
	promotions map[uuid.UUID]domain.Promotion
	codes      map[string]uuid.UUID
	wasBooked  map[uuid.UUID]bool
	events     []Event
}

func (s *state) clone() *state {
	c := &state{
		showtimes:  make(map[uuid.UUID]domain.Showtime, len(s.showtimes)),
		seats:      make(map[uuid.UUID]map[string]string, len(s.seats)),
		bookings:   make(map[uuid.UUID]domain.Booking, len(s.bookings)),
		promotions: make(map[uuid.UUID]domain.Promotion, len(s.promotions)),
		codes:      make(map[string]uuid.UUID, len(s.codes)),
		wasBooked:  make(map[uuid.UUID]bool, len(s.wasBooked)),
		events:     append([]Event(nil), s.events...),
	}
	for k, v := range s.showtimes {
		c.showtimes[k] = v
	}
	for k, v := range s.wasBooked {
		c.wasBooked[k] = v
	}
	for k, v := range s.seats {
		m := make(map[string]string, len(v))
		for seat, status := range v {
			m[seat] = status
		}
		c.seats[k] = m
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.promotions {
		c.promotions[k] = v
	}
	for k, v := range s.codes {
		c.codes[k] = v
	}
	return c
}

// Store is an in-memory booking.Store.
type Store struct {
	mu sync.Mutex
	st *state

	// FailOn makes the named Tx operation fail with FailErr, for exercising
	// rollback paths.
	FailOn  string
	FailErr error
}

func NewStore() *Store {
	return &Store{st: &state{
		showtimes:  map[uuid.UUID]domain.Showtime{},
		seats:      map[uuid.UUID]map[string]string{},
		bookings:   map[uuid.UUID]domain.Booking{},
		promotions: map[uuid.UUID]domain.Promotion{},
		codes:      map[string]uuid.UUID{},
		wasBooked:  map[uuid.UUID]bool{},
	}}
}

// AddShowtime seeds a showtime with every seat available.
func (s *Store) AddShowtime(st domain.Showtime, seats []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.showtimes[st.ID] = st
	m := make(map[string]string, len(seats))
	for _, seat := range seats {
		m[seat] = seatFree
	}
	s.st.seats[st.ID] = m
}

func (s *Store) AddPromotion(p domain.Promotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.promotions[p.ID] = p
}

// AddBooking seeds a booking and marks its seats booked.
func (s *Store) AddBooking(b domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.bookings[b.ID] = b
	s.st.codes[b.Code] = b.ID
	s.st.wasBooked[b.ShowtimeID] = true
	for _, seat := range b.Seats {
		s.st.seats[b.ShowtimeID][seat] = seatBooked
	}
}

func (s *Store) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.st.events...)
}

func (s *Store) Promotion(id uuid.UUID) domain.Promotion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.promotions[id]
}

func (s *Store) WithTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := s.st.clone()
	tx := &memTx{st: staged, failOn: s.FailOn, failErr: s.FailErr}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = staged
	return nil
}

func (s *Store) Showtime(ctx context.Context, id uuid.UUID) (*domain.Showtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.st.showtimes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &st, nil
}

func (s *Store) Booking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (s *Store) PromotionByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.st.promotions {
		if p.Code == code {
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) SeatsSnapshot(ctx context.Context, showtimeID uuid.UUID) ([]string, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seats, ok := s.st.seats[showtimeID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	var available, booked []string
	for seat, status := range seats {
		if status == seatFree {
			available = append(available, seat)
		} else {
			booked = append(booked, seat)
		}
	}
	sort.Strings(available)
	sort.Strings(booked)
	return available, booked, nil
}

func (s *Store) ExpiredPendingBookings(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.st.bookings {
		if b.Status == domain.BookingPending && b.ExpiresAt != nil && !b.ExpiresAt.After(now) {
			out = append(out, b)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) CreateShowtime(ctx context.Context, st domain.Showtime, seats []string) error {
	s.AddShowtime(st, seats)
	return nil
}

func (s *Store) DeleteShowtime(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.showtimes[id]; !ok {
		return domain.ErrNotFound
	}
	if s.st.wasBooked[id] {
		return domain.ErrShowtimeHasBookings
	}
	delete(s.st.showtimes, id)
	delete(s.st.seats, id)
	return nil
}

type memTx struct {
	st      *state
	failOn  string
	failErr error
}

func (t *memTx) fail(op string) error {
	if t.failOn == op {
		return t.failErr
	}
	return nil
}

func (t *memTx) HoldSeats(ctx context.Context, showtimeID uuid.UUID, seats []string) error {
	if err := t.fail("HoldSeats"); err != nil {
		return err
	}
	m, ok := t.st.seats[showtimeID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, seat := range seats {
		if m[seat] != seatFree {
			return domain.SeatError(seat)
		}
	}
	for _, seat := range seats {
		m[seat] = seatBooked
	}
	return nil
}

func (t *memTx) ReleaseSeats(ctx context.Context, showtimeID uuid.UUID, seats []string) error {
	if err := t.fail("ReleaseSeats"); err != nil {
		return err
	}
	m, ok := t.st.seats[showtimeID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, seat := range seats {
		if m[seat] == seatBooked {
			m[seat] = seatFree
		}
	}
	return nil
}

func (t *memTx) InsertBooking(ctx context.Context, b domain.Booking) error {
	if err := t.fail("InsertBooking"); err != nil {
		return err
	}
	if _, dup := t.st.codes[b.Code]; dup {
		return domain.ErrBookingCodeCollision
	}
	t.st.bookings[b.ID] = b
	t.st.codes[b.Code] = b.ID
	t.st.wasBooked[b.ShowtimeID] = true
	return nil
}

func (t *memTx) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) error {
	if err := t.fail("UpdateBookingStatus"); err != nil {
		return err
	}
	b, ok := t.st.bookings[id]
	if !ok || b.Status != from {
		return domain.ErrInvalidTransition
	}
	b.Status = to
	t.st.bookings[id] = b
	return nil
}

func (t *memTx) MarkBookingPaid(ctx context.Context, id uuid.UUID) error {
	if err := t.fail("MarkBookingPaid"); err != nil {
		return err
	}
	b, ok := t.st.bookings[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.PaidStatus = domain.PaymentPaid
	b.ExpiresAt = nil
	t.st.bookings[id] = b
	return nil
}

func (t *memTx) DeleteBooking(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := t.fail("DeleteBooking"); err != nil {
		return false, err
	}
	b, ok := t.st.bookings[id]
	if !ok || b.Status != domain.BookingPending {
		return false, nil
	}
	delete(t.st.bookings, id)
	delete(t.st.codes, b.Code)
	return true, nil
}

func (t *memTx) IncrementPromotionUsage(ctx context.Context, id uuid.UUID) error {
	if err := t.fail("IncrementPromotionUsage"); err != nil {
		return err
	}
	p, ok := t.st.promotions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.UsageCount >= p.UsageLimit {
		return domain.ErrPromotionExhausted
	}
	p.UsageCount++
	t.st.promotions[id] = p
	return nil
}

func (t *memTx) AppendEvent(ctx context.Context, eventType string, b domain.Booking) error {
	if err := t.fail("AppendEvent"); err != nil {
		return err
	}
	t.st.events = append(t.st.events, Event{Type: eventType, Booking: b})
	return nil
}

// Locker is an in-memory booking.SeatLocker.
type Locker struct {
	mu    sync.Mutex
	locks map[string]string
}

func NewLocker() *Locker {
	return &Locker{locks: map[string]string{}}
}

func (l *Locker) LockSeats(ctx context.Context, showtimeID uuid.UUID, seats []string, owner string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	taken := make([]string, 0, len(seats))
	for _, seat := range seats {
		key := showtimeID.String() + ":" + seat
		if _, held := l.locks[key]; held {
			for _, prev := range taken {
				delete(l.locks, showtimeID.String()+":"+prev)
			}
			return seat, nil
		}
		l.locks[key] = owner
		taken = append(taken, seat)
	}
	return "", nil
}

func (l *Locker) UnlockSeats(ctx context.Context, showtimeID uuid.UUID, seats []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, seat := range seats {
		delete(l.locks, showtimeID.String()+":"+seat)
	}
}

// Catalog is an in-memory booking.Catalog.
type Catalog struct {
	Halls map[uuid.UUID][]string
}

func (c *Catalog) HallSeats(ctx context.Context, hallID uuid.UUID) ([]string, error) {
	seats, ok := c.Halls[hallID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return seats, nil
}
