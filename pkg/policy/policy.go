package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/storeforge/pkg/cluster"
	"github.com/cuemby/storeforge/pkg/types"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

const (
	// DefaultProvisionTimeout is how long a store may stay unready after creation
	DefaultProvisionTimeout = 15 * time.Minute

	// DefaultMaxTransientRetries is how many consecutive transient failures a
	// store absorbs before it is failed
	DefaultMaxTransientRetries = 3
)

// Class is the outcome of classifying a handler error
type Class int

const (
	// Fatal errors move the store to FAILED
	Fatal Class = iota
	// Transient errors are retried on a later pass, within the retry budget
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "fatal"
}

// Policy holds the timeout and retry limits shared by every handler
type Policy struct {
	ProvisionTimeout    time.Duration
	MaxTransientRetries int
}

// Default returns the policy used when nothing is configured
func Default() Policy {
	return Policy{
		ProvisionTimeout:    DefaultProvisionTimeout,
		MaxTransientRetries: DefaultMaxTransientRetries,
	}
}

// Elapsed returns the time since createdAt, never negative
func Elapsed(createdAt, now time.Time) time.Duration {
	d := now.Sub(createdAt)
	if d < 0 {
		return 0
	}
	return d
}

// TimedOut reports whether rec has been unready for longer than the limit.
// The limit is measured from CreatedAt and is not reset by retried installs.
func (p Policy) TimedOut(rec *types.StoreRecord, now time.Time) bool {
	if p.ProvisionTimeout <= 0 {
		return false
	}
	return Elapsed(rec.CreatedAt, now) > p.ProvisionTimeout
}

// TimeoutMessage is the error message persisted for a timed-out store
func (p Policy) TimeoutMessage(rec *types.StoreRecord, now time.Time) string {
	return fmt.Sprintf("provisioning timeout: store %s not ready after %s (limit %s)",
		rec.ID, Elapsed(rec.CreatedAt, now).Round(time.Second), p.ProvisionTimeout)
}

// Classify decides whether err is worth retrying
func Classify(err error) Class {
	switch {
	case err == nil:
		return Fatal
	case errors.Is(err, cluster.ErrTransport),
		errors.Is(err, context.DeadlineExceeded),
		apierrors.IsServerTimeout(err),
		apierrors.IsTimeout(err),
		apierrors.IsTooManyRequests(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsInternalError(err):
		return Transient
	}
	return Fatal
}

// RetryBudget counts consecutive transient failures per store.
// Counts live in memory only; a restart gives every store a fresh budget.
type RetryBudget struct {
	max    int
	mu     sync.Mutex
	counts map[string]int
}

// NewRetryBudget creates a budget allowing max consecutive retries per store
func NewRetryBudget(max int) *RetryBudget {
	return &RetryBudget{
		max:    max,
		counts: make(map[string]int),
	}
}

// Spend records a transient failure for id and reports whether it is still
// within budget. It returns the number of consecutive failures so far.
func (b *RetryBudget) Spend(id string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counts[id]++
	n := b.counts[id]
	if n > b.max {
		delete(b.counts, id)
		return n, false
	}
	return n, true
}

// Reset clears the failure count of id
func (b *RetryBudget) Reset(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.counts, id)
}

// Attempts returns the current consecutive failure count of id
func (b *RetryBudget) Attempts(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[id]
}
