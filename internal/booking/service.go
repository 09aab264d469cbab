package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/filmgate/cinema-booking/internal/domain"
	"github.com/filmgate/cinema-booking/internal/observability"
)

// Event types written to the outbox alongside each state change.
const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCompleted = "booking.completed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingExpired   = "booking.expired"
)

const (
	maxCommitAttempts = 3
	retryBaseBackoff  = 50 * time.Millisecond
)

// Service is the reservation transaction coordinator. All mutation of seat
// sets and promotion counters goes through it (or the reclaimer); the rest of
// the system only reads.
type Service struct {
	store   Store
	locks   SeatLocker
	catalog Catalog
	audit   Auditor
	logger  observability.Logger
	holdTTL time.Duration
	now     func() time.Time
}

func NewService(store Store, locks SeatLocker, catalog Catalog, audit Auditor, logger observability.Logger, holdTTL time.Duration) *Service {
	return &Service{
		store:   store,
		locks:   locks,
		catalog: catalog,
		audit:   audit,
		logger:  logger,
		holdTTL: holdTTL,
		now:     time.Now,
	}
}

// Reserve validates the request, prices it, applies the coupon if one was
// supplied, then commits seat hold + promotion usage + booking record as one
// atomic unit. Validation failures leave no state behind; only the commit
// block needs rollback, and the database transaction provides it.
func (s *Service) Reserve(ctx context.Context, userID, showtimeID uuid.UUID, seats []string, couponCode string, method domain.PaymentMethod) (*domain.Booking, error) {
	if len(seats) == 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "no seats requested")
	}
	if hasDuplicates(seats) {
		return nil, errors.Wrap(domain.ErrInvalidInput, "duplicate seat in request")
	}
	if method != domain.PaymentCard && method != domain.PaymentCash {
		return nil, errors.Wrap(domain.ErrInvalidInput, "unknown payment method")
	}

	now := s.now()
	st, err := s.store.Showtime(ctx, showtimeID)
	if err != nil {
		return nil, err
	}
	if err := st.OpenForSale(now); err != nil {
		return nil, err
	}

	// Cheap pre-check against a snapshot. The authoritative check happens
	// again inside the transaction; this only gives earlier, cheaper failures
	// for requests that lost the race before reaching us.
	available, _, err := s.store.SeatsSnapshot(ctx, showtimeID)
	if err != nil {
		return nil, err
	}
	if seat := firstMissing(available, seats); seat != "" {
		return nil, domain.SeatError(seat)
	}

	total := st.Price * float64(len(seats))

	var discount *domain.Discount
	if couponCode != "" {
		promo, err := s.store.PromotionByCode(ctx, couponCode)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.ErrPromotionInvalid
			}
			return nil, err
		}
		amount, err := promo.Evaluate(domain.Order{
			Amount:    total,
			UnitPrice: st.Price,
			SeatCount: len(seats),
			MovieID:   st.MovieID.String(),
			CinemaID:  st.CinemaID.String(),
			OccursOn:  now,
		})
		if err != nil {
			return nil, err
		}
		discount = &domain.Discount{PromotionID: promo.ID, Code: promo.Code, Amount: amount}
	}

	var booking domain.Booking
	for attempt := 0; ; attempt++ {
		booking = domain.NewBooking(userID, st, seats, total, discount, method, s.holdTTL, now)
		err = s.commitReservation(ctx, st, booking, discount)
		if err == nil {
			break
		}
		retryable := errors.Is(err, domain.ErrSerializationFailure) || errors.Is(err, domain.ErrBookingCodeCollision)
		if !retryable || attempt+1 >= maxCommitAttempts {
			if errors.Is(err, domain.ErrSerializationFailure) {
				err = domain.ErrTransientConflict
			}
			if s.logger != nil {
				s.logger.WithField("showtime_id", showtimeID.String()).Error("reservation commit failed: ", err)
			}
			observability.ReservationsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBaseBackoff << attempt):
		}
	}

	observability.ReservationsTotal.WithLabelValues("ok").Inc()
	if s.logger != nil {
		s.logger.WithField("booking_id", booking.ID.String()).Info("reservation committed")
	}
	s.recordAudit(ctx, "booking.reserved", userID, map[string]interface{}{
		"booking_id": booking.ID,
		"code":       booking.Code,
		"showtime":   showtimeID,
		"seats":      seats,
		"final":      booking.FinalAmount,
	})
	return &booking, nil
}

func (s *Service) commitReservation(ctx context.Context, st *domain.Showtime, b domain.Booking, discount *domain.Discount) error {
	locked, err := s.lockSeats(ctx, st.ID, b.Seats, b.UserID.String())
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.HoldSeats(ctx, st.ID, b.Seats); err != nil {
			return err
		}
		if discount != nil {
			if err := tx.IncrementPromotionUsage(ctx, discount.PromotionID); err != nil {
				return err
			}
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, EventBookingCreated, b)
	})
	observability.DBTxDuration.Observe(time.Since(start).Seconds())
	if err != nil && locked {
		// The transaction rolled back; drop the fast-path locks so the seats
		// are retryable immediately rather than after lock TTL.
		s.locks.UnlockSeats(ctx, st.ID, b.Seats)
	}
	return err
}

func (s *Service) lockSeats(ctx context.Context, showtimeID uuid.UUID, seats []string, owner string) (bool, error) {
	if s.locks == nil {
		return false, nil
	}
	conflict, err := s.locks.LockSeats(ctx, showtimeID, seats, owner, s.holdTTL)
	if err != nil {
		return false, err
	}
	if conflict != "" {
		return false, domain.SeatError(conflict)
	}
	return true, nil
}

// Cancel releases the booking's seats and marks it cancelled in one atomic
// unit. Only the booking owner may cancel; terminal bookings are refused.
func (s *Service) Cancel(ctx context.Context, bookingID, actorID uuid.UUID) (*domain.Booking, error) {
	b, err := s.store.Booking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != actorID {
		return nil, domain.ErrForbidden
	}
	if !domain.CanTransition(b.Status, domain.BookingCancelled) {
		return nil, domain.ErrInvalidTransition
	}

	from := b.Status
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.ReleaseSeats(ctx, b.ShowtimeID, b.Seats); err != nil {
			return err
		}
		if err := tx.UpdateBookingStatus(ctx, b.ID, from, domain.BookingCancelled); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, EventBookingCancelled, *b)
	})
	if err != nil {
		return nil, err
	}
	if s.locks != nil {
		s.locks.UnlockSeats(ctx, b.ShowtimeID, b.Seats)
	}
	b.Status = domain.BookingCancelled
	if s.logger != nil {
		s.logger.WithField("booking_id", b.ID.String()).Info("booking cancelled")
	}
	s.recordAudit(ctx, "booking.cancelled", actorID, map[string]interface{}{
		"booking_id": b.ID,
		"showtime":   b.ShowtimeID,
		"seats":      b.Seats,
	})
	return b, nil
}

// ConfirmPayment moves a pending cash booking to confirmed and drops its
// expiry hold.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	b, err := s.store.Booking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(b.Status, domain.BookingConfirmed) {
		return nil, domain.ErrInvalidTransition
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.UpdateBookingStatus(ctx, b.ID, domain.BookingPending, domain.BookingConfirmed); err != nil {
			return err
		}
		if err := tx.MarkBookingPaid(ctx, b.ID); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, EventBookingConfirmed, *b)
	})
	if err != nil {
		return nil, err
	}
	b.Status = domain.BookingConfirmed
	b.PaidStatus = domain.PaymentPaid
	b.ExpiresAt = nil
	return b, nil
}

// Complete marks a confirmed booking completed (the ticket was used).
func (s *Service) Complete(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	b, err := s.store.Booking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(b.Status, domain.BookingCompleted) {
		return nil, domain.ErrInvalidTransition
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.UpdateBookingStatus(ctx, b.ID, domain.BookingConfirmed, domain.BookingCompleted); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, EventBookingCompleted, *b)
	})
	if err != nil {
		return nil, err
	}
	b.Status = domain.BookingCompleted
	return b, nil
}

// SeatsSnapshot returns the current seat partition of a showtime.
func (s *Service) SeatsSnapshot(ctx context.Context, showtimeID uuid.UUID) (available, booked []string, err error) {
	return s.store.SeatsSnapshot(ctx, showtimeID)
}

// CheckCoupon quotes a coupon against an order amount without spending it.
// Movie and cinema are optional; when absent the corresponding filter is not
// enforced.
func (s *Service) CheckCoupon(ctx context.Context, code string, amount float64, movieID, cinemaID string) (discount, final float64, err error) {
	promo, err := s.store.PromotionByCode(ctx, code)
	if err != nil {
		return 0, 0, err
	}
	discount, err = promo.Evaluate(domain.Order{
		Amount:   amount,
		MovieID:  movieID,
		CinemaID: cinemaID,
		OccursOn: s.now(),
	})
	if err != nil {
		return 0, 0, err
	}
	return discount, amount - discount, nil
}

// CreateShowtime initializes a showtime and its seat partition from the
// hall's layout in the catalog. Every seat starts available.
func (s *Service) CreateShowtime(ctx context.Context, st domain.Showtime) error {
	seats, err := s.catalog.HallSeats(ctx, st.HallID)
	if err != nil {
		return err
	}
	if len(seats) == 0 {
		return errors.Wrap(domain.ErrInvalidInput, "hall has no seats")
	}
	if st.Status == "" {
		st.Status = domain.ShowtimeOpen
	}
	return s.store.CreateShowtime(ctx, st, seats)
}

// DeleteShowtime removes a showtime that was never booked. Once any booking
// references it, deletion is refused.
func (s *Service) DeleteShowtime(ctx context.Context, showtimeID uuid.UUID) error {
	return s.store.DeleteShowtime(ctx, showtimeID)
}

// Booking looks up one booking.
func (s *Service) Booking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return s.store.Booking(ctx, bookingID)
}

func (s *Service) recordAudit(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) {
	if s.audit != nil {
		s.audit.Record(ctx, action, userID, data)
	}
}

func hasDuplicates(seats []string) bool {
	seen := make(map[string]struct{}, len(seats))
	for _, seat := range seats {
		if _, ok := seen[seat]; ok {
			return true
		}
		seen[seat] = struct{}{}
	}
	return false
}

func firstMissing(available, requested []string) string {
	set := make(map[string]struct{}, len(available))
	for _, seat := range available {
		set[seat] = struct{}{}
	}
	for _, seat := range requested {
		if _, ok := set[seat]; !ok {
			return seat
		}
	}
	return ""
}
