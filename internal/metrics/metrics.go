package metrics

import (
	"escrowledger/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerPostings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_postings_total",
			Help: "Ledger postings by entry type and outcome",
		},
		[]string{"type", "outcome"},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order status transitions by target status",
		},
		[]string{"status"},
	)

	PaymentEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_events_total",
			Help: "Processor events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	PayoutRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_requests_total",
			Help: "Payout requests by status reached",
		},
		[]string{"status"},
	)

	AutoReleaseOrders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auto_release_orders_total",
			Help: "Orders handled by auto-release, released or failed",
		},
		[]string{"result"},
	)

	ProcessorCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "processor_call_duration_seconds",
			Help:    "Duration of payment processor calls",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 20},
		},
		[]string{"method"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

// ObservePosting counts a posting attempt; err nil means a new entry.
func ObservePosting(t domain.EntryType, err error) {
	outcome := "posted"
	if err != nil {
		outcome = string(domain.ReasonOf(err))
	}
	LedgerPostings.WithLabelValues(string(t), outcome).Inc()
}

func ObserveEvent(t domain.PaymentEventType, outcome string) {
	PaymentEvents.WithLabelValues(string(t), outcome).Inc()
}
