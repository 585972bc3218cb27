package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"escrowledger/internal/domain"
	"escrowledger/internal/metrics"
	"escrowledger/internal/port"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const actorHeader = "X-Actor-ID"

type Services struct {
	Wallets    port.WalletService
	Orders     port.OrderService
	Disputes   port.DisputeService
	Payouts    port.PayoutService
	Releases   port.ReleaseService
	Reconciler port.Reconciler
	Processor  port.PaymentProcessor
	// Queue, when set, receives verified webhook events instead of the
	// reconciler handling them inline.
	Queue      port.EventQueue
	Authorizer port.Authorizer
}

type Handler struct {
	svc       Services
	validate  *validator.Validate
	authToken string
	logger    *zap.Logger
}

func NewHandler(svc Services, authToken string, logger *zap.Logger) *Handler {
	return &Handler{
		svc:       svc,
		validate:  validator.New(),
		authToken: authToken,
		logger:    logger,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.observe)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated by the processor's signature, not the bearer token.
	r.Post("/webhooks/stripe", h.StripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(h.requireToken)

		r.Route("/wallets/{userID}", func(r chi.Router) {
			r.Post("/", h.CreateWallet)
			r.Get("/", h.GetWalletDetails)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Route("/{orderID}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Post("/start", h.StartOrder)
				r.Post("/complete", h.CompleteOrder)
				r.Post("/cancel", h.CancelOrder)
				r.Post("/dispute", h.OpenDispute)
				r.Post("/dispute/resolve", h.ResolveDispute)
			})
		})

		r.Route("/payouts", func(r chi.Router) {
			r.Post("/", h.RequestPayout)
			r.Get("/{payoutID}", h.GetPayout)
			r.Post("/{payoutID}/process", h.ProcessPayout)
		})

		r.Post("/auto-release", h.RunAutoRelease)
	})

	return r
}

func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.authToken != "" && r.Header.Get("Authorization") != "Bearer "+h.authToken {
			respondError(w, h.logger, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = r.Method + " " + rc.RoutePattern()
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()

		h.logger.Debug("request",
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *Handler) actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(actorHeader))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid payload")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

var reasonStatus = map[domain.Reason]int{
	domain.ReasonRetry:             http.StatusServiceUnavailable,
	domain.ReasonNotPermitted:      http.StatusConflict,
	domain.ReasonInvalidInput:      http.StatusBadRequest,
	domain.ReasonInsufficientFunds: http.StatusUnprocessableEntity,
	domain.ReasonNotFound:          http.StatusNotFound,
	domain.ReasonAlreadyApplied:    http.StatusOK,
	domain.ReasonUnauthorized:      http.StatusForbidden,
	domain.ReasonInternal:          http.StatusInternalServerError,
}

type errorBody struct {
	Error  string        `json:"error"`
	Reason domain.Reason `json:"reason"`
	Retry  bool          `json:"retryable"`
}

// fail writes err with its structured reason so callers can tell "nothing
// happened, retry" from "not permitted".
func (h *Handler) fail(w http.ResponseWriter, err error) {
	reason := domain.ReasonOf(err)
	status := reasonStatus[reason]
	msg := err.Error()
	if reason == domain.ReasonInternal {
		h.logger.Error("internal error", zap.Error(err))
		msg = "internal server error"
	}
	respondJSON(w, h.logger, status, errorBody{Error: msg, Reason: reason, Retry: domain.Retryable(err)})
}

func respondJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, logger *zap.Logger, status int, message string) {
	respondJSON(w, logger, status, map[string]string{"error": message})
}

var errForbidden = errors.New("actor may not perform this action")
