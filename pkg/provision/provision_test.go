package provision

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/cuemby/storeforge/pkg/storage"
	"github.com/cuemby/storeforge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store), store
}

func TestRequestProvision(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }

	rec, err := svc.RequestProvision(ctx, Request{Name: "  Demo Shop "})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{8}$`), rec.ID)
	assert.Equal(t, "Demo Shop", rec.Name)
	assert.Equal(t, types.EngineMedusa, rec.Engine)
	assert.Equal(t, types.DefaultTemplate, rec.Template)
	assert.Equal(t, "store-"+rec.ID, rec.Namespace)
	assert.Equal(t, types.StatusRequested, rec.Status)
	assert.True(t, rec.CreatedAt.Equal(created))

	stored, err := store.GetStore(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRequested, stored.Status)

	events, err := store.ListEvents(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.ActionCreate, events[0].Action)
	assert.Equal(t, types.StatusRequested, events[0].Status)
}

func TestRequestProvisionValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.RequestProvision(ctx, Request{Name: ""})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.RequestProvision(ctx, Request{Name: "x", Engine: "shopify"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.RequestProvision(ctx, Request{Name: "x", Engine: types.EngineWooCommerce})
	assert.ErrorIs(t, err, ErrEngineDisabled)
}

func TestRequestProvisionRetriesIDCollision(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	ids := []string{"aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := svc.RequestProvision(ctx, Request{Name: "one"})
	require.NoError(t, err)
	second, err := svc.RequestProvision(ctx, Request{Name: "two", Template: "fashion"})
	require.NoError(t, err)

	assert.Equal(t, "aaaaaaaa", first.ID)
	assert.Equal(t, "bbbbbbbb", second.ID)
	assert.Equal(t, "fashion", second.Template)

	all, err := store.ListStores(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRequestDeletion(t *testing.T) {
	ctx := context.Background()

	for _, from := range []types.Status{types.StatusRequested, types.StatusProvisioning, types.StatusReady, types.StatusFailed} {
		t.Run(string(from), func(t *testing.T) {
			svc, store := newService(t)
			rec, err := svc.RequestProvision(ctx, Request{Name: "demo"})
			require.NoError(t, err)
			if from != types.StatusRequested {
				update := storage.StatusUpdate{Status: from}
				switch from {
				case types.StatusReady:
					update.URL = "http://" + rec.ID + ".apps.local"
				case types.StatusFailed:
					update.ErrorMessage = "boom"
				}
				_, err = store.UpdateStatus(ctx, rec.ID, update)
				require.NoError(t, err)
			}

			deleting, err := svc.RequestDeletion(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, types.StatusDeleting, deleting.Status)
			assert.Empty(t, deleting.URL)
			assert.Empty(t, deleting.ErrorMessage)

			again, err := svc.RequestDeletion(ctx, rec.ID)
			require.NoError(t, err, "idempotent while DELETING")
			assert.Equal(t, deleting.Version, again.Version)

			events, err := store.ListEvents(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, types.ActionDelete, events[len(events)-1].Action)
			assert.Len(t, events, 2, "second request writes no event")
		})
	}
}

func TestRequestDeletionRejects(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	_, err := svc.RequestDeletion(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	rec, err := svc.RequestProvision(ctx, Request{Name: "demo"})
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, rec.ID, storage.StatusUpdate{Status: types.StatusDeleted})
	require.NoError(t, err)

	_, err = svc.RequestDeletion(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	mk := func(update storage.StatusUpdate) string {
		rec, err := svc.RequestProvision(ctx, Request{Name: "demo"})
		require.NoError(t, err)
		if update.Status != "" {
			_, err = store.UpdateStatus(ctx, rec.ID, update)
			require.NoError(t, err)
		}
		return rec.ID
	}
	failed := mk(storage.StatusUpdate{Status: types.StatusFailed, ErrorMessage: "timeout"})
	deleted := mk(storage.StatusUpdate{Status: types.StatusDeleted})
	active := mk(storage.StatusUpdate{})

	_, err := svc.Purge(ctx, types.StatusProvisioning)
	assert.ErrorIs(t, err, ErrNotTerminal)

	purged, err := svc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{failed}, purged, "FAILED by default")

	purged, err = svc.Purge(ctx, types.StatusFailed, types.StatusDeleted)
	require.NoError(t, err)
	assert.Equal(t, []string{deleted}, purged)

	_, err = store.GetStore(ctx, failed)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetStore(ctx, active)
	assert.NoError(t, err)

	events, err := store.ListEvents(ctx, failed)
	require.NoError(t, err)
	assert.NotEmpty(t, events, "audit trail survives purge")
}
