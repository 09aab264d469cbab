package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	redisadapter "github.com/filmgate/cinema-booking/internal/adapters/redis"
	"github.com/filmgate/cinema-booking/internal/booking"
	"github.com/filmgate/cinema-booking/internal/config"
	"github.com/filmgate/cinema-booking/internal/domain"
	"github.com/filmgate/cinema-booking/internal/idempotency"
)

const snapshotCacheTTL = 2 * time.Second

type Handlers struct {
	cfg     *config.Config
	service *booking.Service
	cache   *redisadapter.Cache
	idemp   *idempotency.Idempotency
}

func NewHandlers(cfg *config.Config, service *booking.Service, cache *redisadapter.Cache, idemp *idempotency.Idempotency) *Handlers {
	return &Handlers{
		cfg:     cfg,
		service: service,
		cache:   cache,
		idemp:   idemp,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrSeatUnavailable),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrShowtimeHasBookings),
		errors.Is(err, domain.ErrTransientConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrShowtimeClosed),
		errors.Is(err, domain.ErrShowtimeStarted),
		errors.Is(err, domain.ErrPromotionInvalid),
		errors.Is(err, domain.ErrPromotionNotApplicable),
		errors.Is(err, domain.ErrPromotionExhausted):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func bookingResponse(b *domain.Booking) map[string]interface{} {
	resp := map[string]interface{}{
		"booking_id":     b.ID,
		"code":           b.Code,
		"showtime_id":    b.ShowtimeID,
		"seats":          b.Seats,
		"total_amount":   b.TotalAmount,
		"final_amount":   b.FinalAmount,
		"payment_method": b.Payment,
		"payment_status": b.PaidStatus,
		"status":         b.Status,
	}
	if b.Discount != nil {
		resp["discount"] = map[string]interface{}{
			"code":   b.Discount.Code,
			"amount": b.Discount.Amount,
		}
	}
	if b.ExpiresAt != nil {
		resp["expires_at"] = b.ExpiresAt.Format(time.RFC3339)
	}
	return resp
}

func (h *Handlers) Reserve(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		UserID        uuid.UUID `json:"user_id"`
		ShowtimeID    uuid.UUID `json:"showtime_id"`
		Seats         []string  `json:"seats"`
		CouponCode    string    `json:"coupon_code"`
		PaymentMethod string    `json:"payment_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, err.Error()))
		return
	}

	b, err := h.service.Reserve(r.Context(), req.UserID, req.ShowtimeID, req.Seats, req.CouponCode, domain.PaymentMethod(req.PaymentMethod))
	if err != nil {
		writeError(w, err)
		return
	}

	h.cache.InvalidateSnapshot(r.Context(), b.ShowtimeID.String())
	data := writeJSON(w, http.StatusCreated, bookingResponse(b))
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, "invalid booking id"))
		return
	}
	var req struct {
		ActorID uuid.UUID `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, err.Error()))
		return
	}

	b, err := h.service.Cancel(r.Context(), bookingID, req.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cache.InvalidateSnapshot(r.Context(), b.ShowtimeID.String())
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *Handlers) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, "invalid booking id"))
		return
	}
	b, err := h.service.ConfirmPayment(r.Context(), bookingID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *Handlers) Complete(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, "invalid booking id"))
		return
	}
	b, err := h.service.Complete(r.Context(), bookingID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, "invalid booking id"))
		return
	}
	b, err := h.service.Booking(r.Context(), bookingID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *Handlers) SeatsSnapshot(w http.ResponseWriter, r *http.Request) {
	showtimeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, "invalid showtime id"))
		return
	}

	if cached, err := h.cache.GetSnapshot(r.Context(), showtimeID.String()); err == nil && cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Write(cached)
		return
	}

	available, booked, err := h.service.SeatsSnapshot(r.Context(), showtimeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if available == nil {
		available = []string{}
	}
	if booked == nil {
		booked = []string{}
	}
	data := writeJSON(w, http.StatusOK, map[string]interface{}{
		"available": available,
		"booked":    booked,
	})
	h.cache.SetSnapshot(r.Context(), showtimeID.String(), data, snapshotCacheTTL)
}

func (h *Handlers) CheckCoupon(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	if err != nil || amount <= 0 {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, "invalid amount"))
		return
	}

	discount, final, err := h.service.CheckCoupon(r.Context(), code, amount,
		r.URL.Query().Get("movie_id"), r.URL.Query().Get("cinema_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"discount_amount": discount,
		"final_amount":    final,
	})
}

func (h *Handlers) CreateShowtime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MovieID  uuid.UUID `json:"movie_id"`
		CinemaID uuid.UUID `json:"cinema_id"`
		HallID   uuid.UUID `json:"hall_id"`
		StartsAt time.Time `json:"starts_at"`
		EndsAt   time.Time `json:"ends_at"`
		Price    float64   `json:"price"`
		Format   string    `json:"format"`
		Language string    `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, err.Error()))
		return
	}
	if req.Price <= 0 || !req.EndsAt.After(req.StartsAt) {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, "bad price or time window"))
		return
	}

	st := domain.Showtime{
		ID:       uuid.New(),
		MovieID:  req.MovieID,
		CinemaID: req.CinemaID,
		HallID:   req.HallID,
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
		Price:    req.Price,
		Format:   req.Format,
		Language: req.Language,
		Status:   domain.ShowtimeOpen,
	}
	if err := h.service.CreateShowtime(r.Context(), st); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"showtime_id": st.ID})
}

func (h *Handlers) DeleteShowtime(w http.ResponseWriter, r *http.Request) {
	showtimeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidInput, "invalid showtime id"))
		return
	}
	if err := h.service.DeleteShowtime(r.Context(), showtimeID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
