package reconciler

import (
	"fmt"
	"time"

	"github.com/cuemby/storeforge/pkg/metrics"
	"github.com/cuemby/storeforge/pkg/policy"
	"github.com/cuemby/storeforge/pkg/types"
)

// ReadinessMode selects what PROVISIONING stores must satisfy to become READY
type ReadinessMode string

const (
	// ReadinessSoft marks a store READY once all of its pods are ready.
	// The URL is best effort.
	ReadinessSoft ReadinessMode = "soft"

	// ReadinessHard additionally requires an ingress host and an HTTP 200
	// from the store URL.
	ReadinessHard ReadinessMode = "hard"
)

// DefaultBaseDomain is used to build store URLs when no ingress host is known
const DefaultBaseDomain = "apps.local"

// Valid reports whether m is a known readiness mode
func (m ReadinessMode) Valid() bool {
	return m == ReadinessSoft || m == ReadinessHard
}

// Effect is a cluster side effect requested by a handler
type Effect int

const (
	EffectCreateNamespace Effect = iota
	EffectInstallRelease
	EffectUninstallRelease
	EffectDeleteNamespace
)

func (e Effect) String() string {
	switch e {
	case EffectCreateNamespace:
		return "create-namespace"
	case EffectInstallRelease:
		return "install-release"
	case EffectUninstallRelease:
		return "uninstall-release"
	case EffectDeleteNamespace:
		return "delete-namespace"
	}
	return fmt.Sprintf("effect(%d)", int(e))
}

// Input is everything a handler may look at
type Input struct {
	Record      *types.StoreRecord
	Observation types.Observation
	Now         time.Time
	Policy      policy.Policy
	Readiness   ReadinessMode
	BaseDomain  string

	// Reachable is the hard readiness probe result. It is only meaningful
	// when Readiness is ReadinessHard and the pods are ready.
	Reachable bool
}

// Decision is a handler's verdict for one store.
//
// The loop applies it in order: the status write (if Next is set), then the
// audit event, then Effects. A zero Decision changes nothing.
type Decision struct {
	Next         types.Status
	URL          string
	ErrorMessage string
	// Reason labels failures in metrics
	Reason  string
	Action  types.Action
	Message string
	Effects []Effect
}

// Transition reports whether the decision writes a new status
func (d Decision) Transition() bool {
	return d.Next != ""
}

// Handler computes the decision for one status
type Handler func(in Input) (Decision, error)

var handlers = map[types.Status]Handler{
	types.StatusRequested:    handleRequested,
	types.StatusProvisioning: handleProvisioning,
	types.StatusDeleting:     handleDeleting,
}

// Handle dispatches to the handler of the record's status
func Handle(in Input) (Decision, error) {
	h, ok := handlers[in.Record.Status]
	if !ok {
		return Decision{}, fmt.Errorf("no handler for status %s", in.Record.Status)
	}
	return h(in)
}

// NeedsObservation reports whether a handler for rec needs cluster state.
// Timed-out provisioning stores fail without observing, so a control plane
// outage cannot hold them past the limit.
func NeedsObservation(rec *types.StoreRecord, p policy.Policy, now time.Time) bool {
	switch rec.Status {
	case types.StatusProvisioning:
		return !p.TimedOut(rec, now)
	case types.StatusDeleting:
		return true
	}
	return false
}

// StoreURL returns the public URL of a store
func StoreURL(rec *types.StoreRecord, obs types.Observation, baseDomain string) string {
	if obs.IngressHost != "" {
		return "http://" + obs.IngressHost
	}
	if baseDomain == "" {
		baseDomain = DefaultBaseDomain
	}
	return "http://" + rec.ID + "." + baseDomain
}

// handleRequested moves the store to PROVISIONING before anything is
// installed, so the transition fires once even if the install never returns.
func handleRequested(in Input) (Decision, error) {
	return Decision{
		Next:    types.StatusProvisioning,
		Action:  types.ActionProvision,
		Message: fmt.Sprintf("provisioning %s store in namespace %s", in.Record.Engine, in.Record.Namespace),
		Effects: []Effect{EffectCreateNamespace, EffectInstallRelease},
	}, nil
}

func handleProvisioning(in Input) (Decision, error) {
	rec, obs := in.Record, in.Observation

	if in.Policy.TimedOut(rec, in.Now) {
		msg := in.Policy.TimeoutMessage(rec, in.Now)
		return Decision{
			Next:         types.StatusFailed,
			ErrorMessage: msg,
			Reason:       metrics.ReasonTimeout,
			Action:       types.ActionFail,
		}, nil
	}

	// Namespace removed out of band; both calls are idempotent.
	if !obs.NamespaceExists {
		return Decision{Effects: []Effect{EffectCreateNamespace, EffectInstallRelease}}, nil
	}

	// The install never landed, e.g. the process stopped between creating
	// the namespace and installing. Install is an upsert.
	if !obs.ReleaseInstalled {
		return Decision{Effects: []Effect{EffectInstallRelease}}, nil
	}

	if !obs.PodsReady {
		return Decision{}, nil
	}

	if in.Readiness == ReadinessHard && (obs.IngressHost == "" || !in.Reachable) {
		return Decision{}, nil
	}

	url := StoreURL(rec, obs, in.BaseDomain)
	return Decision{
		Next:    types.StatusReady,
		URL:     url,
		Action:  types.ActionReady,
		Message: "store ready at " + url,
	}, nil
}

func handleDeleting(in Input) (Decision, error) {
	if in.Observation.NamespaceExists {
		return Decision{Effects: []Effect{EffectUninstallRelease, EffectDeleteNamespace}}, nil
	}
	return Decision{
		Next:    types.StatusDeleted,
		Action:  types.ActionDelete,
		Message: fmt.Sprintf("namespace %s removed", in.Record.Namespace),
	}, nil
}
