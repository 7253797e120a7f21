package policy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/storeforge/pkg/cluster"
	"github.com/cuemby/storeforge/pkg/types"
	"github.com/stretchr/testify/assert"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestTimedOut(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := &types.StoreRecord{ID: "ab12cd34", CreatedAt: created}
	p := Policy{ProvisionTimeout: 900 * time.Second}

	assert.False(t, p.TimedOut(rec, created))
	assert.False(t, p.TimedOut(rec, created.Add(900*time.Second)), "limit itself is not exceeded")
	assert.True(t, p.TimedOut(rec, created.Add(901*time.Second)))
	assert.False(t, p.TimedOut(rec, created.Add(-time.Minute)), "clock skew")

	assert.False(t, Policy{}.TimedOut(rec, created.Add(24*time.Hour)), "zero timeout disables the check")
}

func TestTimeoutMessage(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := &types.StoreRecord{ID: "ab12cd34", CreatedAt: created}
	p := Policy{ProvisionTimeout: 900 * time.Second}

	msg := p.TimeoutMessage(rec, created.Add(901*time.Second))
	assert.Equal(t, "provisioning timeout: store ab12cd34 not ready after 15m1s (limit 15m0s)", msg)
	assert.Contains(t, msg, "timeout")
}

func TestClassify(t *testing.T) {
	gr := schema.GroupResource{Resource: "namespaces"}
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, Fatal},
		{"plain error", errors.New("chart values invalid"), Fatal},
		{"transport", cluster.NewTransportError("get namespace", errors.New("connection refused")), Transient},
		{"wrapped transport", fmt.Errorf("install: %w", cluster.NewTransportError("helm", errors.New("eof"))), Transient},
		{"deadline", fmt.Errorf("observe: %w", context.DeadlineExceeded), Transient},
		{"server timeout", apierrors.NewServerTimeout(gr, "get", 1), Transient},
		{"too many requests", apierrors.NewTooManyRequests("slow down", 1), Transient},
		{"unavailable", apierrors.NewServiceUnavailable("etcd"), Transient},
		{"internal", apierrors.NewInternalError(errors.New("boom")), Transient},
		{"forbidden", apierrors.NewForbidden(gr, "store-a", errors.New("rbac")), Fatal},
		{"not found", apierrors.NewNotFound(gr, "store-a"), Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRetryBudget(t *testing.T) {
	b := NewRetryBudget(3)

	for i := 1; i <= 3; i++ {
		n, ok := b.Spend("a")
		assert.Equal(t, i, n)
		assert.True(t, ok)
	}
	n, ok := b.Spend("a")
	assert.Equal(t, 4, n)
	assert.False(t, ok, "fourth consecutive failure exhausts the budget")
	assert.Equal(t, 0, b.Attempts("a"), "exhausted budget is cleared")

	b.Spend("b")
	b.Spend("b")
	b.Reset("b")
	assert.Equal(t, 0, b.Attempts("b"))
	_, ok = b.Spend("b")
	assert.True(t, ok)
}

func TestRetryBudgetZero(t *testing.T) {
	b := NewRetryBudget(0)
	_, ok := b.Spend("a")
	assert.False(t, ok, "zero budget escalates immediately")
}

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, 15*time.Minute, p.ProvisionTimeout)
	assert.Equal(t, 3, p.MaxTransientRetries)
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "fatal", Fatal.String())
}
