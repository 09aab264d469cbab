package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type PromotionType string

const (
	PromotionPercentage  PromotionType = "percentage"
	PromotionFixedAmount PromotionType = "fixed_amount"
	PromotionBOGO        PromotionType = "buy_one_get_one"
)

type PromotionStatus string

const (
	PromotionUpcoming PromotionStatus = "upcoming"
	PromotionActive   PromotionStatus = "active"
	PromotionExpired  PromotionStatus = "expired"
)

// ApplyToAll is the sentinel member meaning "no filter" in the applicability
// lists of a Promotion.
const ApplyToAll = "all"

type Promotion struct {
	ID                uuid.UUID
	Code              string
	Name              string
	Type              PromotionType
	Value             float64
	MinPurchase       float64
	MaxDiscount       float64 // 0 means uncapped
	StartsAt          time.Time
	EndsAt            time.Time
	ApplicableMovies  []string
	ApplicableCinemas []string
	ApplicableDays    []string // lowercase weekday names, or "all"
	UsageLimit        int
	UsageCount        int
}

// StatusAt derives the promotion status from its validity window. It is never
// stored; callers recompute it on every load.
func (p *Promotion) StatusAt(now time.Time) PromotionStatus {
	switch {
	case now.Before(p.StartsAt):
		return PromotionUpcoming
	case now.After(p.EndsAt):
		return PromotionExpired
	default:
		return PromotionActive
	}
}

// Order is the context a promotion is evaluated against. An empty MovieID or
// CinemaID means the caller has no such context (a standalone coupon quote)
// and the corresponding applicability filter is not enforced.
type Order struct {
	Amount    float64
	UnitPrice float64
	SeatCount int
	MovieID   string
	CinemaID  string
	OccursOn  time.Time
}

// Evaluate decides applicability and computes the discount for an order.
// It is a pure function: checks run in a fixed order and short-circuit on the
// first failure, and the promotion is never mutated here. The usage counter
// is incremented by the coordinator inside the reservation transaction.
func (p *Promotion) Evaluate(ord Order) (float64, error) {
	if p.StatusAt(ord.OccursOn) != PromotionActive {
		return 0, ErrPromotionInvalid
	}
	if ord.Amount < p.MinPurchase {
		return 0, ErrPromotionNotApplicable
	}
	if p.UsageCount >= p.UsageLimit {
		return 0, ErrPromotionExhausted
	}
	weekday := strings.ToLower(ord.OccursOn.Weekday().String())
	if !matches(p.ApplicableDays, weekday) {
		return 0, ErrPromotionNotApplicable
	}
	if ord.MovieID != "" && !matches(p.ApplicableMovies, ord.MovieID) {
		return 0, ErrPromotionNotApplicable
	}
	if ord.CinemaID != "" && !matches(p.ApplicableCinemas, ord.CinemaID) {
		return 0, ErrPromotionNotApplicable
	}

	var discount float64
	switch p.Type {
	case PromotionPercentage:
		discount = ord.Amount * p.Value / 100
	case PromotionFixedAmount:
		discount = p.Value
	case PromotionBOGO:
		// Every second seat is free.
		discount = ord.UnitPrice * float64(ord.SeatCount/2)
	default:
		return 0, ErrPromotionInvalid
	}
	if p.MaxDiscount > 0 && discount > p.MaxDiscount {
		discount = p.MaxDiscount
	}
	if discount > ord.Amount {
		discount = ord.Amount
	}
	if discount < 0 {
		discount = 0
	}
	return discount, nil
}

func matches(allowed []string, v string) bool {
	for _, a := range allowed {
		if a == ApplyToAll || a == v {
			return true
		}
	}
	return false
}
