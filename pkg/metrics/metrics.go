package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	StoresTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storeforge_stores",
			Help: "Number of stores by status",
		},
		[]string{"status"},
	)

	StoresCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeforge_stores_created_total",
			Help: "Total number of stores requested by engine",
		},
		[]string{"engine"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storeforge_reconciliation_duration_seconds",
			Help:    "Time taken by one reconciliation pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storeforge_reconciliation_cycles_total",
			Help: "Total number of reconciliation passes",
		},
	)

	StoreTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeforge_store_transitions_total",
			Help: "Total number of store status transitions",
		},
		[]string{"from", "to"},
	)

	TransientErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storeforge_transient_errors_total",
			Help: "Total number of transient errors absorbed by the retry budget",
		},
	)

	// Provisioning metrics
	ProvisioningFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeforge_provisioning_failures_total",
			Help: "Total number of stores failed by reason",
		},
		[]string{"reason"},
	)

	ProvisioningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storeforge_provisioning_duration_seconds",
			Help:    "Time from store creation to READY in seconds",
			Buckets: []float64{15, 30, 60, 120, 180, 300, 450, 600, 900, 1800},
		},
	)
)

// Failure reasons
const (
	ReasonTimeout   = "timeout"
	ReasonTransport = "transport"
	ReasonPanic     = "panic"
	ReasonError     = "error"
)

func init() {
	// Register all metrics
	prometheus.MustRegister(StoresTotal)
	prometheus.MustRegister(StoresCreated)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(StoreTransitions)
	prometheus.MustRegister(TransientErrors)
	prometheus.MustRegister(ProvisioningFailures)
	prometheus.MustRegister(ProvisioningDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
