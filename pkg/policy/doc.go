// Package policy decides when a store has taken too long to provision and
// whether a failed step should be retried or should fail the store.
package policy
