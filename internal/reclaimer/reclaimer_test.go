package reclaimer

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/filmgate/cinema-booking/internal/booking"
	"github.com/filmgate/cinema-booking/internal/booking/bookingtest"
	"github.com/filmgate/cinema-booking/internal/domain"
	"github.com/filmgate/cinema-booking/internal/observability"
)

type nopLogger struct{}

func (nopLogger) Info(args ...interface{})  {}
func (nopLogger) Error(args ...interface{}) {}
func (nopLogger) Debug(args ...interface{}) {}
func (nopLogger) Warn(args ...interface{})  {}
func (nopLogger) WithField(key string, value interface{}) observability.Logger {
	return nopLogger{}
}

func quietLogger() observability.Logger { return nopLogger{} }

type recordingInvalidator struct {
	ids []string
}

func (r *recordingInvalidator) InvalidateSnapshot(ctx context.Context, showtimeID string) {
	r.ids = append(r.ids, showtimeID)
}

func seedExpired(t *testing.T, store *bookingtest.Store, expiredAgo time.Duration, seats []string) domain.Booking {
	t.Helper()
	st := domain.Showtime{
		ID:       uuid.New(),
		StartsAt: time.Now().Add(2 * time.Hour),
		EndsAt:   time.Now().Add(4 * time.Hour),
		Price:    100,
		Status:   domain.ShowtimeOpen,
	}
	store.AddShowtime(st, append([]string{}, append(seats, "SPARE")...))

	expiry := time.Now().Add(-expiredAgo)
	b := domain.Booking{
		ID:         uuid.New(),
		Code:       domain.NewBookingCode(),
		UserID:     uuid.New(),
		ShowtimeID: st.ID,
		Seats:      seats,
		Status:     domain.BookingPending,
		PaidStatus: domain.PaymentUnpaid,
		ExpiresAt:  &expiry,
	}
	store.AddBooking(b)
	return b
}

func TestSweep_ReclaimsExpiredPending(t *testing.T) {
	store := bookingtest.NewStore()
	b := seedExpired(t, store, time.Minute, []string{"B1"})
	inv := &recordingInvalidator{}

	r := New(store, inv, quietLogger(), 10)
	n, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}

	available, booked, err := store.SeatsSnapshot(context.Background(), b.ShowtimeID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(available, []string{"B1", "SPARE"}) || len(booked) != 0 {
		t.Errorf("seats after sweep: available=%v booked=%v", available, booked)
	}

	if _, err := store.Booking(context.Background(), b.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expired booking still present: %v", err)
	}

	events := store.Events()
	if len(events) != 1 || events[0].Type != booking.EventBookingExpired {
		t.Errorf("events = %v, want one booking.expired", events)
	}
	if !reflect.DeepEqual(inv.ids, []string{b.ShowtimeID.String()}) {
		t.Errorf("invalidated snapshots = %v, want [%s]", inv.ids, b.ShowtimeID)
	}
}

func TestReclaim_PaidBookingKeepsItsSeats(t *testing.T) {
	store := bookingtest.NewStore()
	b := seedExpired(t, store, time.Minute, []string{"B1"})

	// The customer pays at the counter after the expiry scan picked up the
	// booking but before its cleanup transaction runs.
	paid := b
	paid.Status = domain.BookingConfirmed
	paid.PaidStatus = domain.PaymentPaid
	paid.ExpiresAt = nil
	store.AddBooking(paid)

	r := New(store, nil, quietLogger(), 10)
	reclaimed, err := r.reclaim(context.Background(), b)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed {
		t.Fatal("reclaim removed a booking that was paid in the meantime")
	}

	got, err := store.Booking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("paid booking gone: %v", err)
	}
	if got.Status != domain.BookingConfirmed || got.PaidStatus != domain.PaymentPaid {
		t.Errorf("booking = %s/%s, want CONFIRMED/PAID", got.Status, got.PaidStatus)
	}

	available, booked, err := store.SeatsSnapshot(context.Background(), b.ShowtimeID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(booked, []string{"B1"}) {
		t.Errorf("paid booking lost its seats: available=%v booked=%v", available, booked)
	}
	if events := store.Events(); len(events) != 0 {
		t.Errorf("events = %v, want none", events)
	}
}

func TestSweep_ReclaimedShowtimeStaysUndeletable(t *testing.T) {
	store := bookingtest.NewStore()
	b := seedExpired(t, store, time.Minute, []string{"B1"})

	r := New(store, nil, quietLogger(), 10)
	if _, err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	// The booking row is gone, but the showtime was booked once and stays
	// undeletable.
	err := store.DeleteShowtime(context.Background(), b.ShowtimeID)
	if !errors.Is(err, domain.ErrShowtimeHasBookings) {
		t.Fatalf("delete showtime after reclaim: %v, want ErrShowtimeHasBookings", err)
	}
}

func TestSweep_SecondPassIsNoop(t *testing.T) {
	store := bookingtest.NewStore()
	seedExpired(t, store, time.Minute, []string{"B1"})

	r := New(store, nil, quietLogger(), 10)
	if _, err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}

	n, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep reclaimed %d, want 0", n)
	}
}

func TestSweep_LeavesLiveBookingsAlone(t *testing.T) {
	store := bookingtest.NewStore()

	// Pending but not yet expired.
	live := seedExpired(t, store, -time.Hour, []string{"C1"})

	// Confirmed bookings never expire regardless of any stale expiry value.
	confirmed := seedExpired(t, store, time.Minute, []string{"D1"})
	confirmed.Status = domain.BookingConfirmed
	store.AddBooking(confirmed)

	r := New(store, nil, quietLogger(), 10)
	n, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("reclaimed = %d, want 0", n)
	}

	for _, id := range []uuid.UUID{live.ID, confirmed.ID} {
		if _, err := store.Booking(context.Background(), id); err != nil {
			t.Errorf("booking %s removed by sweep: %v", id, err)
		}
	}
}

func TestSweep_FailedReclaimRetriesNextPass(t *testing.T) {
	store := bookingtest.NewStore()
	b := seedExpired(t, store, time.Minute, []string{"B1"})
	store.FailOn = "ReleaseSeats"
	store.FailErr = errors.New("connection reset")

	r := New(store, nil, quietLogger(), 10)
	r.maxRetries = 1

	n, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("reclaimed = %d, want 0", n)
	}
	if _, err := store.Booking(context.Background(), b.ID); err != nil {
		t.Fatalf("booking should survive the failed reclaim: %v", err)
	}

	store.FailOn = ""
	n, err = r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("recovery sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("recovery sweep reclaimed %d, want 1", n)
	}
}

func TestSweep_BatchLimit(t *testing.T) {
	store := bookingtest.NewStore()
	for i := 0; i < 5; i++ {
		seedExpired(t, store, time.Minute, []string{"B1"})
	}

	r := New(store, nil, quietLogger(), 2)
	n, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("reclaimed = %d, want batch limit 2", n)
	}
}
