package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNamespaceFor(t *testing.T) {
	assert.Equal(t, "store-ab12cd34", NamespaceFor("ab12cd34"))
	assert.Equal(t, "medusa-ab12cd34", ReleaseNameFor(EngineMedusa, "ab12cd34"))
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status         Status
		needsAttention bool
		terminal       bool
	}{
		{StatusRequested, true, false},
		{StatusProvisioning, true, false},
		{StatusReady, false, false},
		{StatusFailed, false, true},
		{StatusDeleting, true, false},
		{StatusDeleted, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.True(t, tt.status.Valid())
			assert.Equal(t, tt.needsAttention, tt.status.NeedsAttention())
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}

	assert.False(t, Status("PAUSED").Valid())
}

func TestEngine(t *testing.T) {
	assert.True(t, EngineMedusa.Enabled())
	assert.True(t, EngineWooCommerce.Valid())
	assert.False(t, EngineWooCommerce.Enabled())
	assert.False(t, Engine("shopify").Valid())
}

func TestStoreRecordValidate(t *testing.T) {
	base := func() *StoreRecord {
		return &StoreRecord{
			ID:        "ab12cd34",
			Name:      "demo",
			Engine:    EngineMedusa,
			Template:  DefaultTemplate,
			Namespace: "store-ab12cd34",
			Status:    StatusRequested,
			CreatedAt: time.Now(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *StoreRecord)
		wantErr bool
	}{
		{name: "valid", mutate: func(r *StoreRecord) {}},
		{name: "missing id", mutate: func(r *StoreRecord) { r.ID = "" }, wantErr: true},
		{name: "foreign namespace", mutate: func(r *StoreRecord) { r.Namespace = "default" }, wantErr: true},
		{name: "unknown status", mutate: func(r *StoreRecord) { r.Status = "PAUSED" }, wantErr: true},
		{name: "url while provisioning", mutate: func(r *StoreRecord) {
			r.Status = StatusProvisioning
			r.URL = "http://x"
		}, wantErr: true},
		{name: "url while ready", mutate: func(r *StoreRecord) {
			r.Status = StatusReady
			r.URL = "http://x"
		}},
		{name: "error while ready", mutate: func(r *StoreRecord) {
			r.Status = StatusReady
			r.ErrorMessage = "boom"
		}, wantErr: true},
		{name: "error while failed", mutate: func(r *StoreRecord) {
			r.Status = StatusFailed
			r.ErrorMessage = "boom"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(r)
			err := r.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
