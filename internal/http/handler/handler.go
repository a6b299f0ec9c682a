package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"flash-sale-reservation-service/internal/http/response"
	"flash-sale-reservation-service/internal/repository"
	"flash-sale-reservation-service/internal/service"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return false
	}
	return true
}

// writeServiceError maps domain errors onto the response envelope. Anything
// unmapped is an internal error and deliberately carries no detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrSaleWindowClosed):
		response.Error(w, r, http.StatusConflict, "SALE_CLOSED", "sale window is not open", nil)
	case errors.Is(err, service.ErrItemNotInSale):
		response.Error(w, r, http.StatusNotFound, "ITEM_NOT_IN_SALE", "item is not part of this sale", nil)
	case errors.Is(err, service.ErrAlreadyParticipated):
		response.Error(w, r, http.StatusConflict, "ALREADY_PARTICIPATED", "you already have a reservation for this sale", nil)
	case errors.Is(err, service.ErrOutOfStock):
		response.Error(w, r, http.StatusConflict, "OUT_OF_STOCK", "item is sold out", nil)
	case errors.Is(err, service.ErrPaymentInitFailed):
		response.Error(w, r, http.StatusBadGateway, "PAYMENT_INIT_FAILED", "could not start checkout, please retry", nil)
	case errors.Is(err, service.ErrInvalidSaleWindow):
		response.Error(w, r, http.StatusBadRequest, "INVALID_SALE_WINDOW", err.Error(), nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
	case errors.Is(err, service.ErrAccountSuspended):
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "account suspended", nil)
	case errors.Is(err, service.ErrSessionInvalid):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "session expired or revoked", nil)
	case errors.Is(err, service.ErrAuthenticationFailed):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication failed", nil)
	case errors.Is(err, service.ErrInvalidWebhookSignature):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_SIGNATURE", "webhook signature verification failed", nil)
	case errors.Is(err, repository.ErrSaleWindowNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "sale window not found", nil)
	case errors.Is(err, repository.ErrReservationNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "reservation not found", nil)
	case errors.Is(err, repository.ErrInvalidTransition):
		response.Error(w, r, http.StatusConflict, "INVALID_TRANSITION", "sale window cannot transition from its current state", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
