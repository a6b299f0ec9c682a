package handler

import (
	"net/http"
	"time"

	"flash-sale-reservation-service/internal/domain"
	"flash-sale-reservation-service/internal/http/middleware"
	"flash-sale-reservation-service/internal/http/response"
	"flash-sale-reservation-service/internal/observability"
	"flash-sale-reservation-service/internal/service"

	"github.com/go-chi/chi/v5"
)

type ReservationHandler struct {
	reservations *service.ReservationService
	settlement   *service.SettlementService
}

func NewReservationHandler(reservations *service.ReservationService, settlement *service.SettlementService) *ReservationHandler {
	return &ReservationHandler{reservations: reservations, settlement: settlement}
}

type reservationView struct {
	ID               uint       `json:"id"`
	SaleWindowID     uint       `json:"sale_window_id"`
	ItemID           string     `json:"item_id"`
	Price            int64      `json:"price"`
	Status           string     `json:"status"`
	PaymentReference string     `json:"payment_reference"`
	ExpiresAt        time.Time  `json:"expires_at"`
	PurchasedAt      *time.Time `json:"purchased_at,omitempty"`
}

func viewReservation(res *domain.Reservation) reservationView {
	return reservationView{
		ID:               res.ID,
		SaleWindowID:     res.SaleWindowID,
		ItemID:           res.ItemID,
		Price:            res.Price,
		Status:           string(res.Status),
		PaymentReference: res.PaymentReference,
		ExpiresAt:        res.ExpiresAt,
		PurchasedAt:      res.PurchasedAt,
	}
}

type reserveRequest struct {
	ItemID string `json:"item_id"`
}

type reserveResponse struct {
	Reservation reservationView `json:"reservation"`
	PaymentURL  string          `json:"payment_url"`
}

func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	saleID, ok := saleIDParam(r)
	if !ok {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid sale id", nil)
		return
	}
	var req reserveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ItemID == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "item_id is required", nil)
		return
	}

	out, err := h.reservations.Reserve(r.Context(), user, saleID, req.ItemID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "reservation_placed",
		"user_id", user.ID,
		"sale_window_id", saleID,
		"item_id", req.ItemID,
		"reference", out.Reservation.PaymentReference,
	)
	response.JSON(w, r, http.StatusCreated, reserveResponse{
		Reservation: viewReservation(out.Reservation),
		PaymentURL:  out.PaymentURL,
	})
}

// Mine returns the caller's reservation in a sale, if one exists.
func (h *ReservationHandler) Mine(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	saleID, ok := saleIDParam(r)
	if !ok {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid sale id", nil)
		return
	}

	res, err := h.reservations.GetForUser(user.ID, saleID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, viewReservation(res))
}

// Get resolves a reservation by payment reference for status polling. Only
// the owner (or an admin) may see it.
func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, ok := h.ownedReservation(w, r)
	if !ok {
		return
	}
	response.JSON(w, r, http.StatusOK, viewReservation(res))
}

// Verify asks the processor for the payment's final word and settles the
// reservation accordingly. Clients call this when they return from checkout
// before the webhook has landed.
func (h *ReservationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	res, ok := h.ownedReservation(w, r)
	if !ok {
		return
	}
	settled, err := h.settlement.VerifyAndSettle(r.Context(), res.PaymentReference)
	if err != nil {
		response.Error(w, r, http.StatusBadGateway, "VERIFY_FAILED", "could not verify payment with processor", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, viewReservation(settled))
}

func (h *ReservationHandler) ownedReservation(w http.ResponseWriter, r *http.Request) (*domain.Reservation, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return nil, false
	}
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing payment reference", nil)
		return nil, false
	}

	res, err := h.reservations.GetByReference(reference)
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	if res.UserID != user.ID && !user.IsAdmin {
		// Hide the existence of other users' reservations.
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "reservation not found", nil)
		return nil, false
	}
	return res, true
}
