package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/storeforge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories lets every contract test run against each driver
var storeFactories = map[Driver]func(t *testing.T) Store{
	DriverBolt: func(t *testing.T) Store {
		s, err := NewBoltStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	},
	DriverSQLite: func(t *testing.T) Store {
		s, err := NewSQLiteStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	},
}

func forEachDriver(t *testing.T, fn func(t *testing.T, s Store)) {
	for driver, factory := range storeFactories {
		t.Run(string(driver), func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func newRecord(id string, status types.Status, createdAt time.Time) *types.StoreRecord {
	return &types.StoreRecord{
		ID:        id,
		Name:      "store " + id,
		Engine:    types.EngineMedusa,
		Template:  types.DefaultTemplate,
		Namespace: types.NamespaceFor(id),
		Status:    status,
		CreatedAt: createdAt,
	}
}

func TestCreateAndGetStore(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

		require.NoError(t, s.CreateStore(ctx, newRecord("ab12cd34", types.StatusRequested, created)))

		got, err := s.GetStore(ctx, "ab12cd34")
		require.NoError(t, err)
		assert.Equal(t, "store-ab12cd34", got.Namespace)
		assert.Equal(t, types.StatusRequested, got.Status)
		assert.True(t, got.CreatedAt.Equal(created))
		assert.Equal(t, uint64(1), got.Version)

		err = s.CreateStore(ctx, newRecord("ab12cd34", types.StatusRequested, created))
		assert.ErrorIs(t, err, ErrAlreadyExists)

		_, err = s.GetStore(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateStoreRejectsInvalidRecord(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		rec := newRecord("ab12cd34", types.StatusRequested, time.Now())
		rec.Namespace = "default"

		err := s.CreateStore(context.Background(), rec)
		assert.ErrorIs(t, err, ErrInvalidUpdate)
	})
}

func TestListStoresByStatus(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Now().Add(-time.Hour)

		require.NoError(t, s.CreateStore(ctx, newRecord("c3", types.StatusDeleting, base.Add(3*time.Minute))))
		require.NoError(t, s.CreateStore(ctx, newRecord("a1", types.StatusRequested, base.Add(1*time.Minute))))
		require.NoError(t, s.CreateStore(ctx, newRecord("r9", types.StatusReady, base)))
		require.NoError(t, s.CreateStore(ctx, newRecord("b2", types.StatusProvisioning, base.Add(2*time.Minute))))

		active, err := s.ListStoresByStatus(ctx, types.ActiveStatuses...)
		require.NoError(t, err)
		require.Len(t, active, 3)
		assert.Equal(t, []string{"a1", "b2", "c3"}, ids(active), "oldest first")

		all, err := s.ListStores(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"c3", "b2", "a1", "r9"}, ids(all), "newest first")

		none, err := s.ListStoresByStatus(ctx)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestUpdateStatusEnforcesInvariants(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateStore(ctx, newRecord("ab12cd34", types.StatusProvisioning, time.Now())))

		_, err := s.UpdateStatus(ctx, "ab12cd34", StatusUpdate{Status: types.StatusProvisioning, URL: "http://x"})
		assert.ErrorIs(t, err, ErrInvalidUpdate)

		_, err = s.UpdateStatus(ctx, "ab12cd34", StatusUpdate{Status: types.StatusReady, ErrorMessage: "boom"})
		assert.ErrorIs(t, err, ErrInvalidUpdate)

		_, err = s.UpdateStatus(ctx, "ab12cd34", StatusUpdate{Status: "PAUSED"})
		assert.ErrorIs(t, err, ErrInvalidUpdate)

		rec, err := s.UpdateStatus(ctx, "ab12cd34", StatusUpdate{
			Status: types.StatusReady,
			From:   types.StatusProvisioning,
			URL:    "http://ab12cd34.apps.local",
		})
		require.NoError(t, err)
		assert.Equal(t, types.StatusReady, rec.Status)
		assert.Equal(t, "http://ab12cd34.apps.local", rec.URL)
		assert.Equal(t, uint64(2), rec.Version)

		// Leaving READY clears the URL.
		rec, err = s.UpdateStatus(ctx, "ab12cd34", StatusUpdate{Status: types.StatusDeleting, From: types.StatusReady})
		require.NoError(t, err)
		assert.Empty(t, rec.URL)

		got, err := s.GetStore(ctx, "ab12cd34")
		require.NoError(t, err)
		assert.Equal(t, types.StatusDeleting, got.Status)
		assert.Empty(t, got.URL)
		assert.NoError(t, got.Validate())
	})
}

func TestUpdateStatusConflict(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateStore(ctx, newRecord("ab12cd34", types.StatusRequested, time.Now())))

		_, err := s.UpdateStatus(ctx, "ab12cd34", StatusUpdate{Status: types.StatusReady, From: types.StatusProvisioning})
		assert.ErrorIs(t, err, ErrConflict)

		_, err = s.UpdateStatus(ctx, "missing", StatusUpdate{Status: types.StatusFailed})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateStatusSingleWinner(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateStore(ctx, newRecord("ab12cd34", types.StatusRequested, time.Now())))

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateStatus(ctx, "ab12cd34", StatusUpdate{
					Status: types.StatusProvisioning,
					From:   types.StatusRequested,
				})
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, ErrConflict), "unexpected error: %v", err)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
	})
}

func TestDeleteStoreKeepsEvents(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateStore(ctx, newRecord("ab12cd34", types.StatusFailed, time.Now())))
		_, err := s.AppendEvent(ctx, &types.StoreEvent{StoreID: "ab12cd34", Action: types.ActionFail, Status: types.StatusFailed})
		require.NoError(t, err)

		require.NoError(t, s.DeleteStore(ctx, "ab12cd34"))
		require.NoError(t, s.DeleteStore(ctx, "ab12cd34"), "delete is idempotent")

		_, err = s.GetStore(ctx, "ab12cd34")
		assert.ErrorIs(t, err, ErrNotFound)

		events, err := s.ListEvents(ctx, "ab12cd34")
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

func TestEventsAreOrdered(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		actions := []types.Action{types.ActionCreate, types.ActionProvision, types.ActionReady}
		for _, a := range actions {
			_, err := s.AppendEvent(ctx, &types.StoreEvent{StoreID: "ab12cd34", Action: a, Status: types.StatusProvisioning})
			require.NoError(t, err)
		}
		other, err := s.AppendEvent(ctx, &types.StoreEvent{StoreID: "ab12cd3", Action: types.ActionCreate, Status: types.StatusRequested, Message: "other"})
		require.NoError(t, err)
		assert.NotZero(t, other.ID)
		assert.False(t, other.Timestamp.IsZero())

		events, err := s.ListEvents(ctx, "ab12cd34")
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, ev := range events {
			assert.Equal(t, actions[i], ev.Action)
			assert.Equal(t, "ab12cd34", ev.StoreID)
		}
		assert.Less(t, events[0].ID, events[1].ID)

		recent, err := s.ListRecentEvents(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "other", recent[0].Message, "newest first")
		assert.Equal(t, types.ActionReady, recent[1].Action)

		_, err = s.AppendEvent(ctx, &types.StoreEvent{Action: types.ActionCreate})
		assert.ErrorIs(t, err, ErrInvalidUpdate)
	})
}

func TestOpenDriver(t *testing.T) {
	for _, driver := range []Driver{DriverBolt, DriverSQLite} {
		s, err := Open(driver, t.TempDir())
		require.NoError(t, err, driver)
		require.NoError(t, s.Close())
	}

	_, err := Open("etcd", t.TempDir())
	assert.Error(t, err)
}

func TestBoltStoreReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreateStore(ctx, newRecord("ab12cd34", types.StatusRequested, time.Now())))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetStore(ctx, "ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRequested, got.Status)
}

func ids(recs []*types.StoreRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
