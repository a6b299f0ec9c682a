package handler

import (
	"errors"
	"io"
	"net/http"

	"flash-sale-reservation-service/internal/http/response"
	"flash-sale-reservation-service/internal/observability"
	"flash-sale-reservation-service/internal/repository"
	"flash-sale-reservation-service/internal/service"
)

const webhookSignatureHeader = "X-Webhook-Signature"

// maxWebhookBody caps the payload we are willing to HMAC.
const maxWebhookBody = 256 << 10

type WebhookHandler struct {
	settlement *service.SettlementService
}

func NewWebhookHandler(settlement *service.SettlementService) *WebhookHandler {
	return &WebhookHandler{settlement: settlement}
}

func (h *WebhookHandler) PaymentEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "could not read payload", nil)
		return
	}

	err = h.settlement.HandleWebhook(r.Context(), payload, r.Header.Get(webhookSignatureHeader))
	switch {
	case err == nil:
		observability.Audit(r, "webhook_settled")
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "accepted"})
	case errors.Is(err, service.ErrInvalidWebhookSignature):
		observability.Audit(r, "webhook_rejected", "reason", "bad_signature")
		writeServiceError(w, r, err)
	case errors.Is(err, repository.ErrReservationNotFound):
		// Acknowledge unknown references so the processor stops retrying an
		// event we can never apply.
		observability.Audit(r, "webhook_ignored", "reason", "unknown_reference")
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		// Transient failure: a non-2xx tells the processor to retry later.
		writeServiceError(w, r, err)
	}
}
