// Package reclaimer returns seats held by lapsed unpaid bookings to
// availability. It is the only component besides the coordinator allowed to
// mutate seat inventory.
package reclaimer

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/filmgate/cinema-booking/internal/booking"
	"github.com/filmgate/cinema-booking/internal/domain"
	"github.com/filmgate/cinema-booking/internal/observability"
)

// SnapshotInvalidator drops cached seat snapshots after inventory changes.
type SnapshotInvalidator interface {
	InvalidateSnapshot(ctx context.Context, showtimeID string)
}

type Reclaimer struct {
	store       booking.Store
	cache       SnapshotInvalidator
	logger      observability.Logger
	batch       int
	maxRetries  int
	parallelism int
	now         func() time.Time
}

func New(store booking.Store, cache SnapshotInvalidator, logger observability.Logger, batch int) *Reclaimer {
	if batch <= 0 {
		batch = 100
	}
	return &Reclaimer{
		store:       store,
		cache:       cache,
		logger:      logger,
		batch:       batch,
		maxRetries:  3,
		parallelism: 4,
		now:         time.Now,
	}
}

// Run reconciles on a fixed interval until the context is cancelled.
func (r *Reclaimer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("reclaimer sweep failed: ", err)
			}
		}
	}
}

// Sweep processes one batch of expired pending bookings and reports how many
// were reclaimed. Each booking is cleaned in one transaction, so a crash
// mid-sequence leaves at worst a stale pending booking that the next sweep
// retries. Running a sweep over an already-cleaned booking is a no-op.
func (r *Reclaimer) Sweep(ctx context.Context) (int, error) {
	expired, err := r.store.ExpiredPendingBookings(ctx, r.now(), r.batch)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(r.parallelism)
	var done atomic.Int64
	for _, b := range expired {
		b := b
		g.Go(func() error {
			reclaimed, err := r.reclaimWithRetry(ctx, b)
			if err != nil {
				// Logged and retried on the next pass; nobody waits on this path.
				r.logger.WithField("booking_id", b.ID.String()).Error("failed to reclaim expired booking: ", err)
				return nil
			}
			if reclaimed {
				done.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	return int(done.Load()), nil
}

func (r *Reclaimer) reclaimWithRetry(ctx context.Context, b domain.Booking) (bool, error) {
	var err error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		var reclaimed bool
		if reclaimed, err = r.reclaim(ctx, b); err == nil {
			return reclaimed, nil
		}
		if attempt+1 == r.maxRetries {
			break
		}
		backoff := time.Duration(1<<attempt) * time.Second
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return false, err
}

// reclaim removes one booking and frees its seats. The scan that found the
// booking ran outside this transaction, so the booking may have been paid in
// the meantime; the conditional delete re-checks the pending status and the
// seats are released only when the delete removed a row. A confirmed booking
// keeps its seats.
func (r *Reclaimer) reclaim(ctx context.Context, b domain.Booking) (bool, error) {
	var reclaimed bool
	err := r.store.WithTx(ctx, func(tx booking.Tx) error {
		reclaimed = false
		deleted, err := tx.DeleteBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return nil
		}
		if err := tx.ReleaseSeats(ctx, b.ShowtimeID, b.Seats); err != nil {
			return err
		}
		reclaimed = true
		return tx.AppendEvent(ctx, booking.EventBookingExpired, b)
	})
	if err != nil || !reclaimed {
		return false, err
	}

	observability.BookingsExpired.Inc()
	observability.SeatsReclaimed.Add(float64(len(b.Seats)))
	if r.cache != nil {
		r.cache.InvalidateSnapshot(ctx, b.ShowtimeID.String())
	}
	r.logger.WithField("booking_id", b.ID.String()).Info("expired booking reclaimed")
	return true, nil
}
