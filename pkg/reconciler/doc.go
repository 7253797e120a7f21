/*
Package reconciler drives every storefront towards its declared status.

The reconciler is a polling loop. On every pass it lists the stores that need
attention (REQUESTED, PROVISIONING, DELETING), observes their namespaces in
the cluster and asks the handler for the store's status what to do next.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│                  Reconciliation Loop                       │
	│               (every 10 seconds by default)                │
	└────────────────┬───────────────────────────────────────────┘
	                 │ ListStoresByStatus
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  per store, inside a failure boundary                      │
	│                                                            │
	│   Observe ──► Handle(Input) ──► Decision                   │
	│                                    │                       │
	│                 status write ◄─────┤                       │
	│                 audit event  ◄─────┤                       │
	│                 cluster effects ◄──┘                       │
	└────────────────────────────────────────────────────────────┘

Handlers are pure functions of an Input (record, observation, clock, policy)
and never touch the cluster or the repository. The loop applies their
Decision in a fixed order: status first, then the audit event, then the
cluster effects. Writing PROVISIONING before the install is issued means a
crash mid-install is seen on restart as a PROVISIONING store rather than a
fresh request.

# Transitions

	REQUESTED     ──► PROVISIONING  create namespace, install release
	PROVISIONING  ──► FAILED        now - CreatedAt > ProvisionTimeout
	PROVISIONING  ──► PROVISIONING  namespace missing: create + install again
	PROVISIONING  ──► PROVISIONING  release not installed: install again
	PROVISIONING  ──► READY         pods ready (and URL serving in hard mode)
	DELETING      ──► DELETING      namespace present: uninstall + delete again
	DELETING      ──► DELETED       namespace gone
	any           ──► FAILED        unexpected error or panic

# Readiness

ReadinessSoft (the default) marks a store READY once every pod in its
namespace is ready. The URL is http://<ingress host> when the chart published
an ingress and http://<id>.<base domain> otherwise.

ReadinessHard also requires an ingress host and an HTTP 200 from the URL,
checked with a health.Prober.

# Failures

Each store is reconciled inside its own boundary. A panic or error in one
store never aborts the pass or the loop:

  - Transient errors (control plane unreachable, throttling, call timeouts)
    are retried on later passes, up to policy.MaxTransientRetries in a row.
    Effects that did not run are re-issued first.
  - Any other error fails the store with the error text as its message.
  - A conflicting status write means another writer got there first; the
    store is skipped until the next pass.
  - Errors seen after the pass context was cancelled are dropped. The store
    keeps its status and is picked up by the next run.

The provisioning timeout is checked before the cluster is observed, so a
store can always be failed on time even during a control plane outage.

# Usage

	r := reconciler.New(store, gateway,
		reconciler.WithCharts(catalog),
		reconciler.WithInterval(10*time.Second),
		reconciler.WithReadiness(reconciler.ReadinessSoft, "apps.local"),
	)
	if err := r.Start(ctx); err != nil {
		return err
	}
	defer r.Stop()

Pass runs a single synchronous pass and is what `storeforge serve --once`
uses.

# Concurrency

Passes never overlap: one goroutine runs them back to back on a ticker, and
a pass that overruns the interval delays the next one. WithConcurrency lets a
pass reconcile several stores at once. Two writers racing on the same store
are resolved by the repository's expected-status check.

Stop waits for the in-flight pass. Cancelling the context passed to Start or
Pass instead stops dispatching stores; the loop then reports itself stopped
and may be started again.
*/
package reconciler
