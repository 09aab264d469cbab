package crdb_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/filmgate/cinema-booking/internal/adapters/crdb"
	"github.com/filmgate/cinema-booking/internal/booking"
	"github.com/filmgate/cinema-booking/internal/domain"
)

const schema = `
	CREATE DATABASE IF NOT EXISTS cinema;
	CREATE TABLE IF NOT EXISTS showtimes (
		id        UUID PRIMARY KEY,
		movie_id  UUID NOT NULL,
		cinema_id UUID NOT NULL,
		hall_id   UUID NOT NULL,
		starts_at TIMESTAMPTZ NOT NULL,
		ends_at   TIMESTAMPTZ NOT NULL,
		price     DOUBLE PRECISION NOT NULL,
		format    TEXT NOT NULL DEFAULT '',
		language  TEXT NOT NULL DEFAULT '',
		status    TEXT NOT NULL CHECK (status IN ('OPEN', 'CANCELED', 'SOLD_OUT', 'CLOSED')),
		was_booked BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE TABLE IF NOT EXISTS showtime_seats (
		showtime_id UUID NOT NULL REFERENCES showtimes (id),
		seat_label  TEXT NOT NULL,
		status      TEXT NOT NULL CHECK (status IN ('FREE', 'BOOKED')),
		PRIMARY KEY (showtime_id, seat_label)
	);
	CREATE TABLE IF NOT EXISTS bookings (
		id              UUID PRIMARY KEY,
		code            TEXT NOT NULL,
		user_id         UUID NOT NULL,
		showtime_id     UUID NOT NULL REFERENCES showtimes (id),
		movie_id        UUID NOT NULL,
		cinema_id       UUID NOT NULL,
		hall_id         UUID NOT NULL,
		seats           TEXT[] NOT NULL,
		total_amount    DOUBLE PRECISION NOT NULL,
		promotion_id    UUID,
		promotion_code  TEXT,
		discount_amount DOUBLE PRECISION,
		final_amount    DOUBLE PRECISION NOT NULL,
		payment_method  TEXT NOT NULL CHECK (payment_method IN ('CARD', 'CASH')),
		payment_status  TEXT NOT NULL CHECK (payment_status IN ('UNPAID', 'PAID')),
		status          TEXT NOT NULL CHECK (status IN ('PENDING', 'CONFIRMED', 'COMPLETED', 'CANCELLED')),
		expires_at      TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL,
		CONSTRAINT bookings_code_key UNIQUE (code)
	);
	CREATE TABLE IF NOT EXISTS promotions (
		id                 UUID PRIMARY KEY,
		code               TEXT NOT NULL UNIQUE,
		name               TEXT NOT NULL,
		type               TEXT NOT NULL CHECK (type IN ('percentage', 'fixed_amount', 'buy_one_get_one')),
		value              DOUBLE PRECISION NOT NULL,
		min_purchase       DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_discount       DOUBLE PRECISION NOT NULL DEFAULT 0,
		starts_at          TIMESTAMPTZ NOT NULL,
		ends_at            TIMESTAMPTZ NOT NULL,
		applicable_movies  TEXT[] NOT NULL DEFAULT ARRAY['all'],
		applicable_cinemas TEXT[] NOT NULL DEFAULT ARRAY['all'],
		applicable_days    TEXT[] NOT NULL DEFAULT ARRAY['all'],
		usage_limit        INT NOT NULL,
		usage_count        INT NOT NULL DEFAULT 0 CHECK (usage_count <= usage_limit)
	);
	CREATE TABLE IF NOT EXISTS outbox (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   UUID NOT NULL,
		event_type     TEXT NOT NULL,
		payload_json   JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at   TIMESTAMPTZ,
		status         TEXT NOT NULL CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
		dedupe_key     TEXT NOT NULL
	);
`

func startDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { crdbContainer.Terminate(ctx) })

	dsn, err := crdbContainer.Endpoint(ctx, "postgresql")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, dsn+"/cinema?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatal(err)
	}
	return pool
}

func createShowtime(t *testing.T, repo *crdb.Repository, seats []string) domain.Showtime {
	t.Helper()
	st := domain.Showtime{
		ID:       uuid.New(),
		MovieID:  uuid.New(),
		CinemaID: uuid.New(),
		HallID:   uuid.New(),
		StartsAt: time.Now().Add(2 * time.Hour),
		EndsAt:   time.Now().Add(4 * time.Hour),
		Price:    100,
		Status:   domain.ShowtimeOpen,
	}
	if err := repo.CreateShowtime(context.Background(), st, seats); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestRepository_HoldSeats(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	repo := crdb.NewRepository(startDatabase(t))
	st := createShowtime(t, repo, []string{"A1", "A2", "A3"})

	err := repo.WithTx(ctx, func(tx booking.Tx) error {
		return tx.HoldSeats(ctx, st.ID, []string{"A1", "A2"})
	})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}

	err = repo.WithTx(ctx, func(tx booking.Tx) error {
		return tx.HoldSeats(ctx, st.ID, []string{"A2", "A3"})
	})
	if !errors.Is(err, domain.ErrSeatUnavailable) {
		t.Fatalf("overlapping hold: %v, want ErrSeatUnavailable", err)
	}

	available, booked, err := repo.SeatsSnapshot(ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(available, []string{"A3"}) {
		t.Errorf("available = %v, want [A3]", available)
	}
	if !reflect.DeepEqual(booked, []string{"A1", "A2"}) {
		t.Errorf("booked = %v, want [A1 A2]", booked)
	}
}

func TestRepository_BookingLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	repo := crdb.NewRepository(startDatabase(t))
	st := createShowtime(t, repo, []string{"B1", "B2"})

	expiry := time.Now().Add(-time.Minute)
	b := domain.Booking{
		ID:          uuid.New(),
		Code:        domain.NewBookingCode(),
		UserID:      uuid.New(),
		ShowtimeID:  st.ID,
		MovieID:     st.MovieID,
		CinemaID:    st.CinemaID,
		HallID:      st.HallID,
		Seats:       []string{"B1", "B2"},
		TotalAmount: 200,
		FinalAmount: 200,
		Payment:     domain.PaymentCash,
		PaidStatus:  domain.PaymentUnpaid,
		Status:      domain.BookingPending,
		ExpiresAt:   &expiry,
		CreatedAt:   time.Now(),
	}

	err := repo.WithTx(ctx, func(tx booking.Tx) error {
		if err := tx.HoldSeats(ctx, st.ID, b.Seats); err != nil {
			return err
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, booking.EventBookingCreated, b)
	})
	if err != nil {
		t.Fatalf("reserve tx: %v", err)
	}

	fetched, err := repo.Booking(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.Status != domain.BookingPending || !reflect.DeepEqual(fetched.Seats, b.Seats) {
		t.Errorf("fetched booking = %+v", fetched)
	}

	// A second booking reusing the ticket code is rejected as a collision.
	dup := b
	dup.ID = uuid.New()
	dup.Seats = []string{"B2"}
	err = repo.WithTx(ctx, func(tx booking.Tx) error {
		return tx.InsertBooking(ctx, dup)
	})
	if !errors.Is(err, domain.ErrBookingCodeCollision) {
		t.Fatalf("duplicate code: %v, want ErrBookingCodeCollision", err)
	}

	expired, err := repo.ExpiredPendingBookings(ctx, time.Now(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].ID != b.ID {
		t.Fatalf("expired = %v, want the seeded booking", expired)
	}

	var deleted bool
	err = repo.WithTx(ctx, func(tx booking.Tx) error {
		var err error
		if deleted, err = tx.DeleteBooking(ctx, b.ID); err != nil || !deleted {
			return err
		}
		return tx.ReleaseSeats(ctx, st.ID, b.Seats)
	})
	if err != nil {
		t.Fatalf("reclaim tx: %v", err)
	}
	if !deleted {
		t.Fatal("pending booking was not deleted")
	}

	if _, err := repo.Booking(ctx, b.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("deleted booking lookup: %v, want ErrNotFound", err)
	}
	available, _, err := repo.SeatsSnapshot(ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(available, []string{"B1", "B2"}) {
		t.Errorf("available after reclaim = %v, want [B1 B2]", available)
	}

	// A second delete attempt reports nothing removed.
	err = repo.WithTx(ctx, func(tx booking.Tx) error {
		deleted, err := tx.DeleteBooking(ctx, b.ID)
		if deleted {
			t.Error("second delete removed a row")
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	// The showtime was booked once, so it stays undeletable even though the
	// booking row is gone.
	if err := repo.DeleteShowtime(ctx, st.ID); !errors.Is(err, domain.ErrShowtimeHasBookings) {
		t.Fatalf("delete showtime after reclaim: %v, want ErrShowtimeHasBookings", err)
	}

	outboxRecords, err := repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(outboxRecords) != 1 || outboxRecords[0].EventType != booking.EventBookingCreated {
		t.Fatalf("outbox = %v, want one booking.created record", outboxRecords)
	}
	if err := repo.MarkPublished(ctx, outboxRecords[0].ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	outboxRecords, err = repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(outboxRecords) != 0 {
		t.Errorf("outbox after publish = %v, want empty", outboxRecords)
	}
}

func TestRepository_PromotionUsage(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	pool := startDatabase(t)
	repo := crdb.NewRepository(pool)

	promoID := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO promotions (id, code, name, type, value, starts_at, ends_at, usage_limit)
		VALUES ($1, 'SAVE10', 'Save 10%', 'percentage', 10, now() - INTERVAL '1 hour', now() + INTERVAL '1 hour', 1)
	`, promoID)
	if err != nil {
		t.Fatal(err)
	}

	err = repo.WithTx(ctx, func(tx booking.Tx) error {
		return tx.IncrementPromotionUsage(ctx, promoID)
	})
	if err != nil {
		t.Fatalf("first use: %v", err)
	}

	err = repo.WithTx(ctx, func(tx booking.Tx) error {
		return tx.IncrementPromotionUsage(ctx, promoID)
	})
	if !errors.Is(err, domain.ErrPromotionExhausted) {
		t.Fatalf("second use: %v, want ErrPromotionExhausted", err)
	}

	promo, err := repo.PromotionByCode(ctx, "SAVE10")
	if err != nil {
		t.Fatal(err)
	}
	if promo.UsageCount != 1 {
		t.Errorf("usage count = %d, want 1", promo.UsageCount)
	}
}
