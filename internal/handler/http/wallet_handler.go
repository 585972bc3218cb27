package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.svc.Wallets.GetOrCreateWallet(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, wallet)
}

func (h *Handler) GetWalletDetails(w http.ResponseWriter, r *http.Request) {
	details, err := h.svc.Wallets.GetWalletDetails(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, details)
}
