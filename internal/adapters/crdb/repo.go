package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/filmgate/cinema-booking/internal/booking"
	"github.com/filmgate/cinema-booking/internal/domain"
)

const (
	serializationFailureCode = "40001"
	uniqueViolationCode      = "23505"
)

const (
	seatFree   = "FREE"
	seatBooked = "BOOKED"
)

// Repository implements booking.Store over a Postgres-protocol database.
// Seat inventory is one row per (showtime, seat); a hold is a conditional
// flip of those rows inside a SERIALIZABLE transaction, so two transactions
// contending for a seat cannot both commit.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE"); err != nil {
		return err
	}

	if err = fn(&txRunner{tx: tx}); err != nil {
		return mapPgError(err)
	}

	return mapPgError(tx.Commit(ctx))
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case serializationFailureCode:
			return domain.ErrSerializationFailure
		case uniqueViolationCode:
			if pgErr.ConstraintName == "bookings_code_key" {
				return domain.ErrBookingCodeCollision
			}
		}
	}
	return err
}

// txRunner implements booking.Tx over one open pgx transaction.
type txRunner struct {
	tx pgx.Tx
}

func (t *txRunner) HoldSeats(ctx context.Context, showtimeID uuid.UUID, seats []string) error {
	rows, err := t.tx.Query(ctx, `
		SELECT seat_label, status FROM showtime_seats
		WHERE showtime_id = $1 AND seat_label = ANY($2)
	`, showtimeID, seats)
	if err != nil {
		return err
	}
	state := make(map[string]string, len(seats))
	for rows.Next() {
		var label, status string
		if err := rows.Scan(&label, &status); err != nil {
			rows.Close()
			return err
		}
		state[label] = status
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, seat := range seats {
		status, ok := state[seat]
		if !ok || status != seatFree {
			return domain.SeatError(seat)
		}
	}

	result, err := t.tx.Exec(ctx, `
		UPDATE showtime_seats SET status = $3
		WHERE showtime_id = $1 AND seat_label = ANY($2) AND status = $4
	`, showtimeID, seats, seatBooked, seatFree)
	if err != nil {
		return err
	}
	if int(result.RowsAffected()) != len(seats) {
		return domain.ErrSeatUnavailable
	}
	return nil
}

func (t *txRunner) ReleaseSeats(ctx context.Context, showtimeID uuid.UUID, seats []string) error {
	// Releasing an already-free seat affects zero rows; that is the
	// idempotent success the reclaimer depends on.
	_, err := t.tx.Exec(ctx, `
		UPDATE showtime_seats SET status = $3
		WHERE showtime_id = $1 AND seat_label = ANY($2) AND status = $4
	`, showtimeID, seats, seatFree, seatBooked)
	return err
}

func (t *txRunner) InsertBooking(ctx context.Context, b domain.Booking) error {
	var promoID *uuid.UUID
	var promoCode *string
	var promoAmount *float64
	if b.Discount != nil {
		promoID = &b.Discount.PromotionID
		promoCode = &b.Discount.Code
		promoAmount = &b.Discount.Amount
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings (
			id, code, user_id, showtime_id, movie_id, cinema_id, hall_id,
			seats, total_amount, promotion_id, promotion_code, discount_amount,
			final_amount, payment_method, payment_status, status, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, b.ID, b.Code, b.UserID, b.ShowtimeID, b.MovieID, b.CinemaID, b.HallID,
		b.Seats, b.TotalAmount, promoID, promoCode, promoAmount,
		b.FinalAmount, b.Payment, b.PaidStatus, b.Status, b.ExpiresAt, b.CreatedAt)
	if err != nil {
		return err
	}
	// The flag outlives the booking row itself; showtime deletion checks it
	// so reclaimed bookings still count as "was booked". Conditional so only
	// the first booking on a showtime writes the row.
	_, err = t.tx.Exec(ctx, `
		UPDATE showtimes SET was_booked = TRUE WHERE id = $1 AND NOT was_booked
	`, b.ShowtimeID)
	return err
}

func (t *txRunner) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE bookings SET status = $3 WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (t *txRunner) MarkBookingPaid(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE bookings SET payment_status = $2, expires_at = NULL WHERE id = $1
	`, id, domain.PaymentPaid)
	return err
}

func (t *txRunner) DeleteBooking(ctx context.Context, id uuid.UUID) (bool, error) {
	// Only pending bookings may be removed. Zero rows means the booking was
	// confirmed or cleaned up after the caller last saw it; the caller must
	// not release its seats in that case.
	result, err := t.tx.Exec(ctx, `
		DELETE FROM bookings WHERE id = $1 AND status = $2
	`, id, domain.BookingPending)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (t *txRunner) IncrementPromotionUsage(ctx context.Context, id uuid.UUID) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE promotions SET usage_count = usage_count + 1
		WHERE id = $1 AND usage_count < usage_limit
	`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPromotionExhausted
	}
	return nil
}

func (r *Repository) Showtime(ctx context.Context, id uuid.UUID) (*domain.Showtime, error) {
	var st domain.Showtime
	err := r.pool.QueryRow(ctx, `
		SELECT id, movie_id, cinema_id, hall_id, starts_at, ends_at, price, format, language, status
		FROM showtimes WHERE id = $1
	`, id).Scan(&st.ID, &st.MovieID, &st.CinemaID, &st.HallID, &st.StartsAt, &st.EndsAt,
		&st.Price, &st.Format, &st.Language, &st.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

const bookingColumns = `
	id, code, user_id, showtime_id, movie_id, cinema_id, hall_id,
	seats, total_amount, promotion_id, promotion_code, discount_amount,
	final_amount, payment_method, payment_status, status, expires_at, created_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	var promoID *uuid.UUID
	var promoCode *string
	var promoAmount *float64
	err := row.Scan(&b.ID, &b.Code, &b.UserID, &b.ShowtimeID, &b.MovieID, &b.CinemaID, &b.HallID,
		&b.Seats, &b.TotalAmount, &promoID, &promoCode, &promoAmount,
		&b.FinalAmount, &b.Payment, &b.PaidStatus, &b.Status, &b.ExpiresAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	if promoID != nil {
		b.Discount = &domain.Discount{PromotionID: *promoID}
		if promoCode != nil {
			b.Discount.Code = *promoCode
		}
		if promoAmount != nil {
			b.Discount.Amount = *promoAmount
		}
	}
	return &b, nil
}

func (r *Repository) Booking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Repository) PromotionByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	var p domain.Promotion
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, name, type, value, min_purchase, max_discount,
		       starts_at, ends_at, applicable_movies, applicable_cinemas, applicable_days,
		       usage_limit, usage_count
		FROM promotions WHERE code = $1
	`, code).Scan(&p.ID, &p.Code, &p.Name, &p.Type, &p.Value, &p.MinPurchase, &p.MaxDiscount,
		&p.StartsAt, &p.EndsAt, &p.ApplicableMovies, &p.ApplicableCinemas, &p.ApplicableDays,
		&p.UsageLimit, &p.UsageCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) SeatsSnapshot(ctx context.Context, showtimeID uuid.UUID) ([]string, []string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT seat_label, status FROM showtime_seats
		WHERE showtime_id = $1 ORDER BY seat_label
	`, showtimeID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var available, booked []string
	for rows.Next() {
		var label, status string
		if err := rows.Scan(&label, &status); err != nil {
			return nil, nil, err
		}
		if status == seatFree {
			available = append(available, label)
		} else {
			booked = append(booked, label)
		}
	}
	return available, booked, rows.Err()
}

func (r *Repository) ExpiredPendingBookings(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3
	`, domain.BookingPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// CreateShowtime inserts the showtime row and one FREE seat row per seat in
// the hall layout, in one transaction.
func (r *Repository) CreateShowtime(ctx context.Context, st domain.Showtime, seats []string) error {
	return r.WithTx(ctx, func(btx booking.Tx) error {
		t := btx.(*txRunner)
		_, err := t.tx.Exec(ctx, `
			INSERT INTO showtimes (id, movie_id, cinema_id, hall_id, starts_at, ends_at, price, format, language, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, st.ID, st.MovieID, st.CinemaID, st.HallID, st.StartsAt, st.EndsAt,
			st.Price, st.Format, st.Language, st.Status)
		if err != nil {
			return err
		}

		rows := make([][]interface{}, len(seats))
		for i, seat := range seats {
			rows[i] = []interface{}{st.ID, seat, seatFree}
		}
		_, err = t.tx.CopyFrom(ctx,
			pgx.Identifier{"showtime_seats"},
			[]string{"showtime_id", "seat_label", "status"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
}

// DeleteShowtime removes a showtime and its seat rows. It is refused once
// any booking has ever referenced the showtime; the was_booked flag persists
// after expired bookings are reclaimed, so those count too.
func (r *Repository) DeleteShowtime(ctx context.Context, id uuid.UUID) error {
	return r.WithTx(ctx, func(btx booking.Tx) error {
		t := btx.(*txRunner)
		var wasBooked bool
		err := t.tx.QueryRow(ctx, `
			SELECT was_booked FROM showtimes WHERE id = $1
		`, id).Scan(&wasBooked)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if wasBooked {
			return domain.ErrShowtimeHasBookings
		}
		if _, err := t.tx.Exec(ctx, `DELETE FROM showtime_seats WHERE showtime_id = $1`, id); err != nil {
			return err
		}
		result, err := t.tx.Exec(ctx, `DELETE FROM showtimes WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}
