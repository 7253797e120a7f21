package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/storeforge/pkg/types"
)

var (
	// ErrNotFound is returned when a store record does not exist
	ErrNotFound = errors.New("store not found")

	// ErrAlreadyExists is returned by CreateStore for a duplicate ID
	ErrAlreadyExists = errors.New("store already exists")

	// ErrConflict is returned by UpdateStatus when the record is no longer in
	// the expected status or was modified concurrently
	ErrConflict = errors.New("store status conflict")

	// ErrInvalidUpdate is returned when a write would break a record invariant
	ErrInvalidUpdate = errors.New("invalid store update")
)

// Driver names a Store implementation
type Driver string

const (
	DriverBolt   Driver = "bolt"
	DriverSQLite Driver = "sqlite"
)

// Store defines the interface for store record and audit event storage.
// It is the single writer of status transitions: every write goes through
// the invariant checks in applyStatusUpdate.
type Store interface {
	// Records
	CreateStore(ctx context.Context, rec *types.StoreRecord) error
	GetStore(ctx context.Context, id string) (*types.StoreRecord, error)
	ListStores(ctx context.Context) ([]*types.StoreRecord, error)
	ListStoresByStatus(ctx context.Context, statuses ...types.Status) ([]*types.StoreRecord, error)
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*types.StoreRecord, error)
	DeleteStore(ctx context.Context, id string) error

	// Events
	AppendEvent(ctx context.Context, event *types.StoreEvent) (*types.StoreEvent, error)
	ListEvents(ctx context.Context, storeID string) ([]*types.StoreEvent, error)
	ListRecentEvents(ctx context.Context, limit int) ([]*types.StoreEvent, error)

	// Utility
	Close() error
}

// StatusUpdate describes one status write.
//
// From, when set, is the status the caller observed; the write fails with
// ErrConflict if the record has moved on since. URL is only accepted for
// READY and ErrorMessage only for FAILED; both are cleared otherwise.
type StatusUpdate struct {
	Status       types.Status
	From         types.Status
	ErrorMessage string
	URL          string
}

const (
	boltFile   = "storeforge.db"
	sqliteFile = "storeforge.sqlite"
)

// Path returns the database file a driver uses inside dataDir
func Path(driver Driver, dataDir string) (string, error) {
	switch driver {
	case DriverSQLite, "":
		return filepath.Join(dataDir, sqliteFile), nil
	case DriverBolt:
		return filepath.Join(dataDir, boltFile), nil
	}
	return "", fmt.Errorf("unknown storage driver %q", driver)
}

// Open opens the store implementation selected by driver inside dataDir
func Open(driver Driver, dataDir string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteStore(dataDir)
	case DriverBolt:
		return NewBoltStore(dataDir)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// applyStatusUpdate validates update against rec and mutates rec in place
func applyStatusUpdate(rec *types.StoreRecord, update StatusUpdate, now time.Time) error {
	if !update.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidUpdate, update.Status)
	}
	if update.From != "" && rec.Status != update.From {
		return fmt.Errorf("%w: store %s is %s, expected %s", ErrConflict, rec.ID, rec.Status, update.From)
	}
	if update.URL != "" && update.Status != types.StatusReady {
		return fmt.Errorf("%w: url is only allowed for %s", ErrInvalidUpdate, types.StatusReady)
	}
	if update.ErrorMessage != "" && update.Status != types.StatusFailed {
		return fmt.Errorf("%w: error message is only allowed for %s", ErrInvalidUpdate, types.StatusFailed)
	}

	rec.Status = update.Status
	rec.URL = update.URL
	rec.ErrorMessage = update.ErrorMessage
	rec.UpdatedAt = now
	rec.Version++
	return nil
}

// prepareCreate fills timestamps and validates a new record
func prepareCreate(rec *types.StoreRecord, now time.Time) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	rec.Version = 1
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	return nil
}

func statusSet(statuses []types.Status) map[types.Status]bool {
	set := make(map[types.Status]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return set
}

// sortOldestFirst orders records by creation time so long waiting stores are
// handled first within a pass
func sortOldestFirst(recs []*types.StoreRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}

func sortNewestFirst(recs []*types.StoreRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
