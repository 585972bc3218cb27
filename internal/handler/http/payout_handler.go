package http

import (
	"net/http"

	"escrowledger/internal/domain"
)

func (h *Handler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	var req domain.PayoutReq
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}
	if !h.decode(w, r, &req) {
		return
	}

	payout, err := h.svc.Payouts.RequestPayout(r.Context(), &req)
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusCreated, payout)
}

func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "payoutID")
	if !ok {
		return
	}

	payout, err := h.svc.Payouts.GetPayout(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, payout)
}

func (h *Handler) ProcessPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "payoutID")
	if !ok {
		return
	}
	if !h.svc.Authorizer.CanProcessPayouts(r.Context(), h.actor(r)) {
		respondError(w, h.logger, http.StatusForbidden, errForbidden.Error())
		return
	}

	payout, err := h.svc.Payouts.ProcessPayout(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, payout)
}
