package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	LedgerTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Ledger transactions by provider and resulting status",
		},
		[]string{"provider", "status"},
	)

	CreditedSolcitos = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_credited_solcitos_total",
			Help: "Solcitos credited through completed purchases",
		},
	)

	ReconcileEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_events_total",
			Help: "Provider notifications by outcome",
		},
		[]string{"provider", "outcome"},
	)

	Transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfers_total",
			Help: "Peer transfers by result",
		},
		[]string{"result"},
	)
)

var registerOnce sync.Once

// InitMetrics registers the collectors with the default registry.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RepositoryCalls, RepositoryDuration,
			LedgerTransactions, CreditedSolcitos,
			ReconcileEvents, Transfers,
		)
	})
}
