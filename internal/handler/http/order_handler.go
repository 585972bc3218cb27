package http

import (
	"net/http"

	"escrowledger/internal/domain"
)

type reasonReq struct {
	Reason string `json:"reason" validate:"max=500"`
}

type resolveReq struct {
	Outcome domain.DisputeOutcome `json:"outcome" validate:"required,oneof=traveler_wins buyer_wins"`
	Reason  string                `json:"reason" validate:"required,max=500"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOrderReq
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.svc.Orders.CreateOrder(r.Context(), &req)
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.svc.Orders.GetOrder(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) StartOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.svc.Orders.StartOrder(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, order)
}

// CompleteOrder is the buyer's confirmation of delivery. An Idempotency-Key
// header is scoped to the order before it reaches the ledger.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.svc.Orders.CompleteOrder(r.Context(), id, h.actor(r), r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req reasonReq
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.svc.Orders.CancelOrder(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req reasonReq
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.svc.Disputes.Open(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	if !h.svc.Authorizer.CanResolveDisputes(r.Context(), h.actor(r)) {
		respondError(w, h.logger, http.StatusForbidden, errForbidden.Error())
		return
	}
	var req resolveReq
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.svc.Disputes.Resolve(r.Context(), id, req.Outcome, req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) RunAutoRelease(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Releases.RunAutoRelease(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, result)
}
