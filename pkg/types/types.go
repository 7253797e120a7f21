package types

import (
	"fmt"
	"time"
)

// NamespacePrefix is prepended to a store ID to form its namespace
const NamespacePrefix = "store-"

// Status represents the lifecycle state of a store
type Status string

const (
	StatusRequested    Status = "REQUESTED"
	StatusProvisioning Status = "PROVISIONING"
	StatusReady        Status = "READY"
	StatusFailed       Status = "FAILED"
	StatusDeleting     Status = "DELETING"
	StatusDeleted      Status = "DELETED"
)

// ActiveStatuses are the statuses the reconciler polls on every pass.
// READY, FAILED and DELETED are quiescent.
var ActiveStatuses = []Status{StatusRequested, StatusProvisioning, StatusDeleting}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusProvisioning, StatusReady, StatusFailed, StatusDeleting, StatusDeleted:
		return true
	}
	return false
}

// Terminal reports whether no automatic transition leaves s
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusDeleted
}

// NeedsAttention reports whether the reconciler polls stores in status s
func (s Status) NeedsAttention() bool {
	for _, active := range ActiveStatuses {
		if s == active {
			return true
		}
	}
	return false
}

// Engine selects the storefront application deployed for a store
type Engine string

const (
	EngineMedusa Engine = "medusa"
	// EngineWooCommerce is reserved but not yet provisionable
	EngineWooCommerce Engine = "woocommerce"
)

// Valid reports whether e is a member of the engine set
func (e Engine) Valid() bool {
	return e == EngineMedusa || e == EngineWooCommerce
}

// Enabled reports whether stores can currently be provisioned with e
func (e Engine) Enabled() bool {
	return e == EngineMedusa
}

// DefaultTemplate is used when a request does not name a template
const DefaultTemplate = "starter"

// StoreRecord is the durable record of one storefront
type StoreRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Engine       Engine    `json:"engine"`
	Template     string    `json:"template"`
	Namespace    string    `json:"namespace"`
	Status       Status    `json:"status"`
	URL          string    `json:"url,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Version      uint64    `json:"version"`
}

// ReleaseName returns the chart release name for the store
func (r *StoreRecord) ReleaseName() string {
	return ReleaseNameFor(r.Engine, r.ID)
}

// Validate checks the record-level invariants
func (r *StoreRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("store id is required")
	}
	if r.Namespace != NamespaceFor(r.ID) {
		return fmt.Errorf("store %s: namespace %q does not match %q", r.ID, r.Namespace, NamespaceFor(r.ID))
	}
	if !r.Status.Valid() {
		return fmt.Errorf("store %s: unknown status %q", r.ID, r.Status)
	}
	if !r.Engine.Valid() {
		return fmt.Errorf("store %s: unknown engine %q", r.ID, r.Engine)
	}
	if r.URL != "" && r.Status != StatusReady {
		return fmt.Errorf("store %s: url set while status is %s", r.ID, r.Status)
	}
	if r.ErrorMessage != "" && r.Status != StatusFailed {
		return fmt.Errorf("store %s: error message set while status is %s", r.ID, r.Status)
	}
	return nil
}

// NamespaceFor derives the namespace of a store from its ID
func NamespaceFor(id string) string {
	return NamespacePrefix + id
}

// ReleaseNameFor derives the release name of a store
func ReleaseNameFor(engine Engine, id string) string {
	return fmt.Sprintf("%s-%s", engine, id)
}

// Action tags an audit event
type Action string

const (
	ActionCreate    Action = "create"
	ActionProvision Action = "provision"
	ActionReady     Action = "ready"
	ActionFail      Action = "fail"
	ActionDelete    Action = "delete"
)

// StoreEvent is an append-only audit entry
type StoreEvent struct {
	ID        uint64    `json:"id"`
	StoreID   string    `json:"storeId"`
	Action    Action    `json:"action"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observation is the cluster state of one store as seen during a single pass.
// It is never persisted or reused across passes.
type Observation struct {
	NamespaceExists  bool
	ReleaseInstalled bool
	PodsReady        bool
	IngressHost      string
}
