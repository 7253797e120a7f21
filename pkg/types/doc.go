/*
Package types defines the core data structures used throughout storeforge.

A store is one tenant storefront. Its durable StoreRecord carries the
declared state (engine, template) and the last status the reconciler
persisted; StoreEvent is the append-only audit trail; Observation is the
ephemeral cluster view computed on every reconciliation pass.

# Store Lifecycle

	REQUESTED ──▶ PROVISIONING ──▶ READY ──▶ DELETING ──▶ DELETED
	                   │                        ▲
	                   ▼                        │
	                 FAILED ────────────────────┘ (operator request)

READY, FAILED and DELETED are quiescent: the reconciler does not poll them.
DELETED records are retained so the audit trail keeps its subject.

# Naming

The namespace and release name are pure functions of the store ID:

	id        ab12cd34
	namespace store-ab12cd34
	release   medusa-ab12cd34

# Invariants

  - Namespace never changes after creation
  - URL is set only when Status is READY
  - ErrorMessage is set only when Status is FAILED

StoreRecord.Validate checks all three; the storage layer calls it on every
write.
*/
package types
