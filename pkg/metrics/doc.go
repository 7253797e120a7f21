/*
Package metrics exposes storeforge's Prometheus metrics and the component
health registry behind /health and /ready.

# Metrics

Reconciler:

	storeforge_reconciliation_duration_seconds   histogram, one sample per pass
	storeforge_reconciliation_cycles_total       counter
	storeforge_store_transitions_total{from,to}  counter
	storeforge_transient_errors_total            counter

Provisioning:

	storeforge_provisioning_failures_total{reason}  counter (timeout, transport, panic, error)
	storeforge_provisioning_duration_seconds        histogram, CreatedAt to READY
	storeforge_stores_created_total{engine}         counter

Inventory:

	storeforge_stores{status}  gauge, refreshed by Collector every 15s

Metrics are registered with the default registry in init, so importing the
package is enough for Handler to serve them.

# Timing

	timer := prometheus.NewTimer(metrics.ReconciliationDuration)
	defer timer.ObserveDuration()

# Health

Components report themselves with UpdateComponent. /health fails when any
registered component is unhealthy; /ready fails until storage and the
reconciler have both reported healthy.
*/
package metrics
