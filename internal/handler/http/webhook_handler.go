package http

import (
	"io"
	"net/http"

	"escrowledger/internal/domain"

	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// StripeWebhook verifies the signature over the raw body, then hands the event
// to the queue or reconciles it inline. The processor redelivers on 5xx, so
// only retryable failures produce one.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "unreadable body")
		return
	}

	ev, err := h.svc.Processor.VerifyEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook rejected", zap.Error(err))
		respondError(w, h.logger, http.StatusBadRequest, "invalid signature")
		return
	}

	log := h.logger.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.ProviderType))

	if h.svc.Queue != nil {
		if err := h.svc.Queue.Enqueue(r.Context(), ev); err != nil {
			log.Error("enqueue payment event", zap.Error(err))
			respondError(w, h.logger, http.StatusServiceUnavailable, "event not accepted")
			return
		}
		respondJSON(w, h.logger, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if err := h.svc.Reconciler.HandlePaymentEvent(r.Context(), ev); err != nil && domain.Retryable(err) {
		log.Error("reconcile payment event", zap.Error(err))
		respondError(w, h.logger, http.StatusInternalServerError, "event not processed")
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]bool{"received": true})
}
