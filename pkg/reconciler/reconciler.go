package reconciler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cuemby/storeforge/pkg/cluster"
	"github.com/cuemby/storeforge/pkg/health"
	"github.com/cuemby/storeforge/pkg/log"
	"github.com/cuemby/storeforge/pkg/metrics"
	"github.com/cuemby/storeforge/pkg/policy"
	"github.com/cuemby/storeforge/pkg/storage"
	"github.com/cuemby/storeforge/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultInterval is the time between the start of two passes
	DefaultInterval = 10 * time.Second

	// DefaultCallTimeout bounds the cluster and storage calls made for one store
	DefaultCallTimeout = 30 * time.Second
)

// ErrAlreadyRunning is returned by Start when the loop is running
var ErrAlreadyRunning = errors.New("reconciler already running")

// ChartResolver picks the chart installed for a store
type ChartResolver interface {
	Resolve(rec *types.StoreRecord) (cluster.ChartSpec, error)
}

// ChartResolverFunc adapts a function to ChartResolver
type ChartResolverFunc func(rec *types.StoreRecord) (cluster.ChartSpec, error)

func (f ChartResolverFunc) Resolve(rec *types.StoreRecord) (cluster.ChartSpec, error) {
	return f(rec)
}

// Publisher receives every audit event the reconciler records
type Publisher interface {
	Publish(event *types.StoreEvent)
}

// Reconciler drives every active store towards its declared status
type Reconciler struct {
	store   storage.Store
	gateway cluster.Gateway
	charts  ChartResolver
	prober  health.Prober
	events  Publisher

	interval    time.Duration
	callTimeout time.Duration
	concurrency int
	policy      policy.Policy
	readiness   ReadinessMode
	baseDomain  string
	now         func() time.Time

	retries *policy.RetryBudget
	pending *pendingEffects
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithInterval sets the time between passes
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.interval = d }
}

// WithCallTimeout bounds the calls made while reconciling one store
func WithCallTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.callTimeout = d }
}

// WithConcurrency sets how many stores are reconciled in parallel within a pass
func WithConcurrency(n int) Option {
	return func(r *Reconciler) { r.concurrency = n }
}

// WithPolicy sets the provisioning timeout and transient retry budget
func WithPolicy(p policy.Policy) Option {
	return func(r *Reconciler) { r.policy = p }
}

// WithReadiness sets the readiness mode and the domain used for store URLs
func WithReadiness(mode ReadinessMode, baseDomain string) Option {
	return func(r *Reconciler) {
		r.readiness = mode
		r.baseDomain = baseDomain
	}
}

// WithProber sets the prober used by ReadinessHard
func WithProber(p health.Prober) Option {
	return func(r *Reconciler) { r.prober = p }
}

// WithCharts sets the chart resolver used for installs
func WithCharts(c ChartResolver) Option {
	return func(r *Reconciler) { r.charts = c }
}

// WithEvents publishes recorded audit events, typically to an events.Broker
func WithEvents(p Publisher) Option {
	return func(r *Reconciler) { r.events = p }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a reconciler. Nothing runs until Start or Pass is called.
func New(store storage.Store, gateway cluster.Gateway, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       store,
		gateway:     gateway,
		interval:    DefaultInterval,
		callTimeout: DefaultCallTimeout,
		concurrency: 1,
		policy:      policy.Default(),
		readiness:   ReadinessSoft,
		baseDomain:  DefaultBaseDomain,
		now:         time.Now,
		pending:     newPendingEffects(),
		logger:      log.WithComponent("reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.charts == nil {
		r.charts = ChartResolverFunc(func(*types.StoreRecord) (cluster.ChartSpec, error) {
			return cluster.ChartSpec{}, nil
		})
	}
	if r.prober == nil {
		r.prober = &health.HTTPProber{}
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	r.retries = policy.NewRetryBudget(r.policy.MaxTransientRetries)
	return r
}

// Start runs a pass immediately and then one per interval until Stop is
// called or ctx is cancelled. Passes never overlap; a slow pass delays the
// next one. Cancelling ctx abandons the in-flight pass at the next store,
// Stop lets it finish.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})

	go r.run(ctx, r.stopCh, r.done)

	metrics.UpdateComponent(metrics.ComponentReconciler, true, "running")
	r.logger.Info().
		Dur("interval", r.interval).
		Int("concurrency", r.concurrency).
		Str("readiness", string(r.readiness)).
		Msg("Reconciler started")
	return nil
}

// Stop signals the loop to exit and waits for the in-flight pass to finish.
// Stopping a reconciler that is not running is a no-op.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	done := r.done
	r.mu.Unlock()

	<-done
	metrics.UpdateComponent(metrics.ComponentReconciler, false, "stopped")
	r.logger.Info().Msg("Reconciler stopped")
}

// Running reports whether the loop is started
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// run is the main reconciliation loop
func (r *Reconciler) run(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Pass(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Reconciliation pass failed")
		}

		select {
		case <-ticker.C:
		case <-stopCh:
			return
		case <-ctx.Done():
			r.exited(stopCh)
			return
		}
	}
}

// exited marks the loop stopped after its context ended. A loop that Stop
// already replaced or stopped is left alone.
func (r *Reconciler) exited(stopCh <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.stopCh != stopCh {
		return
	}
	r.running = false
	metrics.UpdateComponent(metrics.ComponentReconciler, false, "context done")
	r.logger.Info().Msg("Reconciler stopped with its context")
}

// Pass reconciles every active store once. The only error it returns is a
// failure to list stores; per-store failures are handled inside the pass.
func (r *Reconciler) Pass(ctx context.Context) error {
	timer := prometheus.NewTimer(metrics.ReconciliationDuration)
	defer func() {
		timer.ObserveDuration()
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	listCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	stores, err := r.store.ListStoresByStatus(listCtx, types.ActiveStatuses...)
	cancel()
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentStorage, false, err.Error())
		return fmt.Errorf("failed to list active stores: %w", err)
	}
	metrics.UpdateComponent(metrics.ComponentStorage, true, "")

	if len(stores) > 0 {
		r.logger.Debug().Int("stores", len(stores)).Msg("Reconciling stores")
	}

	// A cancelled pass stops picking up stores; the ones already started
	// finish their step and leave their status alone.
	if r.concurrency == 1 {
		for _, rec := range stores {
			if ctx.Err() != nil {
				break
			}
			r.reconcileStore(ctx, rec)
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, rec := range stores {
		if ctx.Err() != nil {
			break
		}
		rec := rec
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r.reconcileStore(ctx, rec)
			return nil
		})
	}
	return g.Wait()
}

// reconcileStore is the failure boundary of one store: nothing it does,
// including a panic, reaches other stores or the loop.
func (r *Reconciler) reconcileStore(ctx context.Context, rec *types.StoreRecord) {
	logger := r.storeLogger(rec)

	defer func() {
		if p := recover(); p != nil {
			logger.Error().
				Interface("panic", p).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic while reconciling store")
			r.fail(ctx, rec, fmt.Sprintf("panic: %v", p), metrics.ReasonPanic)
		}
	}()

	stepCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	if err := r.step(stepCtx, rec, logger); err != nil {
		r.handleError(ctx, rec, err, logger)
		return
	}
	r.retries.Reset(rec.ID)
}

func (r *Reconciler) step(ctx context.Context, rec *types.StoreRecord, logger zerolog.Logger) error {
	if err := r.retryPending(ctx, rec, logger); err != nil {
		return err
	}

	now := r.now()
	in := Input{
		Record:     rec,
		Now:        now,
		Policy:     r.policy,
		Readiness:  r.readiness,
		BaseDomain: r.baseDomain,
	}

	if NeedsObservation(rec, r.policy, now) {
		obs, err := r.observe(ctx, rec)
		if err != nil {
			metrics.UpdateComponent(metrics.ComponentCluster, false, err.Error())
			return err
		}
		metrics.UpdateComponent(metrics.ComponentCluster, true, "")
		in.Observation = obs

		if r.readiness == ReadinessHard && rec.Status == types.StatusProvisioning &&
			obs.PodsReady && obs.IngressHost != "" {
			result := r.prober.Probe(ctx, StoreURL(rec, obs, r.baseDomain))
			in.Reachable = result.Healthy
			if !result.Healthy {
				logger.Debug().Str("probe", result.Message).Msg("Store pods ready but URL not serving yet")
			}
		}
	}

	decision, err := Handle(in)
	if err != nil {
		return err
	}
	return r.apply(ctx, rec, decision, logger)
}

// observe reads the cluster state a handler needs. DELETING only cares
// whether the namespace is still there.
func (r *Reconciler) observe(ctx context.Context, rec *types.StoreRecord) (types.Observation, error) {
	if rec.Status == types.StatusDeleting {
		exists, err := r.gateway.NamespaceExists(ctx, rec.Namespace)
		return types.Observation{NamespaceExists: exists}, err
	}
	return r.gateway.Observe(ctx, rec.Namespace, rec.ReleaseName())
}

// apply persists the decision first, then records the audit event, then
// issues the cluster effects.
func (r *Reconciler) apply(ctx context.Context, rec *types.StoreRecord, d Decision, logger zerolog.Logger) error {
	if d.Transition() {
		if d.Next == types.StatusFailed {
			r.fail(ctx, rec, d.ErrorMessage, d.Reason)
			return nil
		}

		updated, err := r.store.UpdateStatus(ctx, rec.ID, storage.StatusUpdate{
			Status: d.Next,
			From:   rec.Status,
			URL:    d.URL,
		})
		if err != nil {
			return err
		}
		from := *rec
		// Later failures in this pass must see the status just written.
		*rec = *updated
		r.recordTransition(ctx, &from, rec, d, logger)
	}

	if len(d.Effects) == 0 {
		return nil
	}
	return r.runEffects(ctx, rec, d.Effects, logger)
}

func (r *Reconciler) recordTransition(ctx context.Context, from, to *types.StoreRecord, d Decision, logger zerolog.Logger) {
	metrics.StoreTransitions.WithLabelValues(string(from.Status), string(to.Status)).Inc()
	if to.Status == types.StatusReady {
		metrics.ProvisioningDuration.Observe(policy.Elapsed(to.CreatedAt, r.now()).Seconds())
	}

	logger.Info().
		Str("from", string(from.Status)).
		Str("to", string(to.Status)).
		Str("url", to.URL).
		Msg("Store status changed")

	r.appendEvent(ctx, &types.StoreEvent{
		StoreID: to.ID,
		Action:  d.Action,
		Status:  to.Status,
		Message: d.Message,
		Error:   d.ErrorMessage,
	}, logger)
}

func (r *Reconciler) runEffects(ctx context.Context, rec *types.StoreRecord, effects []Effect, logger zerolog.Logger) error {
	for i, effect := range effects {
		if err := r.runEffect(ctx, rec, effect); err != nil {
			r.pending.set(rec, effects[i:])
			return fmt.Errorf("%s for store %s: %w", effect, rec.ID, err)
		}
		logger.Debug().Str("effect", effect.String()).Msg("Effect applied")
	}
	r.pending.clear(rec.ID)
	return nil
}

func (r *Reconciler) runEffect(ctx context.Context, rec *types.StoreRecord, effect Effect) error {
	switch effect {
	case EffectCreateNamespace:
		return r.gateway.CreateNamespace(ctx, rec.Namespace)
	case EffectInstallRelease:
		chart, err := r.charts.Resolve(rec)
		if err != nil {
			return err
		}
		return r.gateway.InstallOrUpgradeRelease(ctx, rec.ReleaseName(), rec.Namespace, chart)
	case EffectUninstallRelease:
		return r.gateway.UninstallRelease(ctx, rec.ReleaseName(), rec.Namespace)
	case EffectDeleteNamespace:
		return r.gateway.DeleteNamespace(ctx, rec.Namespace)
	}
	return fmt.Errorf("unknown effect %s", effect)
}

// retryPending re-issues effects that failed transiently on an earlier pass
// while the store was in the same status.
func (r *Reconciler) retryPending(ctx context.Context, rec *types.StoreRecord, logger zerolog.Logger) error {
	effects := r.pending.get(rec)
	if len(effects) == 0 {
		return nil
	}
	if rec.Status == types.StatusProvisioning && r.policy.TimedOut(rec, r.now()) {
		r.pending.clear(rec.ID)
		return nil
	}

	logger.Info().Int("effects", len(effects)).Msg("Retrying effects from previous pass")
	return r.runEffects(ctx, rec, effects, logger)
}

// handleError routes a failed step through the retry budget. Conflicts mean
// another writer moved the record first and are left to the next pass, as
// are errors caused by the pass being cancelled.
func (r *Reconciler) handleError(ctx context.Context, rec *types.StoreRecord, err error, logger zerolog.Logger) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		logger.Debug().Err(err).Msg("Pass cancelled, store left for the next run")
		return
	}

	if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
		logger.Debug().Err(err).Msg("Store changed during pass, skipping")
		r.pending.clear(rec.ID)
		return
	}

	if policy.Classify(err) == policy.Transient {
		attempt, ok := r.retries.Spend(rec.ID)
		if ok {
			metrics.TransientErrors.Inc()
			logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", r.policy.MaxTransientRetries).
				Msg("Transient error, will retry next pass")
			return
		}
		r.fail(ctx, rec, err.Error(), metrics.ReasonTransport)
		return
	}

	r.fail(ctx, rec, err.Error(), metrics.ReasonError)
}

// fail moves the store to FAILED and records why. It uses a fresh deadline
// so a step that ran out of time can still be recorded.
func (r *Reconciler) fail(parent context.Context, rec *types.StoreRecord, message, reason string) {
	logger := r.storeLogger(rec)
	r.retries.Reset(rec.ID)
	r.pending.clear(rec.ID)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.callTimeout)
	defer cancel()

	updated, err := r.store.UpdateStatus(ctx, rec.ID, storage.StatusUpdate{
		Status:       types.StatusFailed,
		From:         rec.Status,
		ErrorMessage: message,
	})
	if err != nil {
		logger.Error().Err(err).Str("error_message", message).Msg("Failed to mark store as failed")
		return
	}

	metrics.ProvisioningFailures.WithLabelValues(reason).Inc()
	metrics.StoreTransitions.WithLabelValues(string(rec.Status), string(types.StatusFailed)).Inc()
	logger.Error().
		Str("from", string(rec.Status)).
		Str("reason", reason).
		Str("error_message", message).
		Msg("Store failed")

	r.appendEvent(ctx, &types.StoreEvent{
		StoreID: updated.ID,
		Action:  types.ActionFail,
		Status:  updated.Status,
		Error:   message,
	}, logger)
}

// appendEvent writes an audit event. The status write already happened, so
// a lost event is logged rather than undone.
func (r *Reconciler) appendEvent(ctx context.Context, event *types.StoreEvent, logger zerolog.Logger) {
	event.Timestamp = r.now()
	stored, err := r.store.AppendEvent(ctx, event)
	if err != nil {
		logger.Error().Err(err).Str("action", string(event.Action)).Msg("Failed to append store event")
		return
	}
	if r.events != nil {
		r.events.Publish(stored)
	}
}

func (r *Reconciler) storeLogger(rec *types.StoreRecord) zerolog.Logger {
	return log.WithStore("reconciler", rec.ID).With().
		Str("namespace", rec.Namespace).
		Str("status", string(rec.Status)).
		Logger()
}

// pendingEffects remembers effects left undone by a transient failure,
// keyed by store and only valid while the store keeps the same status.
type pendingEffects struct {
	mu      sync.Mutex
	entries map[string]pendingEntry
}

type pendingEntry struct {
	status  types.Status
	effects []Effect
}

func newPendingEffects() *pendingEffects {
	return &pendingEffects{entries: make(map[string]pendingEntry)}
}

func (p *pendingEffects) set(rec *types.StoreRecord, effects []Effect) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[rec.ID] = pendingEntry{
		status:  rec.Status,
		effects: append([]Effect(nil), effects...),
	}
}

func (p *pendingEffects) get(rec *types.StoreRecord) []Effect {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[rec.ID]
	if !ok {
		return nil
	}
	if entry.status != rec.Status {
		delete(p.entries, rec.ID)
		return nil
	}
	return entry.effects
}

func (p *pendingEffects) clear(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, id)
}
