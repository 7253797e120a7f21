package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/storeforge/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketStores      = []byte("stores")
	bucketEvents      = []byte("events")
	bucketStoreEvents = []byte("store_events")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, boltFile)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, fmt.Errorf("database %s is held by another process; the bolt driver allows a single process, use the sqlite driver to run store commands next to serve: %w", dbPath, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketStores, bucketEvents, bucketStoreEvents} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Store record operations
func (s *BoltStore) CreateStore(ctx context.Context, rec *types.StoreRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepareCreate(rec, s.now()); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStores)
		if b.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.ID)
		}
		return putRecord(b, rec)
	})
}

func (s *BoltStore) GetStore(ctx context.Context, id string) (*types.StoreRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *types.StoreRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = getRecord(tx.Bucket(bucketStores), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *BoltStore) ListStores(ctx context.Context) ([]*types.StoreRecord, error) {
	recs, err := s.listWhere(ctx, func(*types.StoreRecord) bool { return true })
	if err != nil {
		return nil, err
	}
	sortNewestFirst(recs)
	return recs, nil
}

func (s *BoltStore) ListStoresByStatus(ctx context.Context, statuses ...types.Status) ([]*types.StoreRecord, error) {
	set := statusSet(statuses)
	recs, err := s.listWhere(ctx, func(rec *types.StoreRecord) bool { return set[rec.Status] })
	if err != nil {
		return nil, err
	}
	sortOldestFirst(recs)
	return recs, nil
}

func (s *BoltStore) listWhere(ctx context.Context, keep func(*types.StoreRecord) bool) ([]*types.StoreRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var recs []*types.StoreRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStores)
		return b.ForEach(func(k, v []byte) error {
			var rec types.StoreRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode store %s: %w", k, err)
			}
			if keep(&rec) {
				recs = append(recs, &rec)
			}
			return nil
		})
	})
	return recs, err
}

// UpdateStatus applies a status write inside a single read-write transaction.
// bbolt serializes writers, so the expected-status check and the write are atomic.
func (s *BoltStore) UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*types.StoreRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var updated *types.StoreRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStores)
		rec, err := getRecord(b, id)
		if err != nil {
			return err
		}
		if err := applyStatusUpdate(rec, update, s.now()); err != nil {
			return err
		}
		updated = rec
		return putRecord(b, rec)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteStore removes the record; its events are kept for audit
func (s *BoltStore) DeleteStore(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStores).Delete([]byte(id))
	})
}

// Event operations
func (s *BoltStore) AppendEvent(ctx context.Context, event *types.StoreEvent) (*types.StoreEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if event.StoreID == "" {
		return nil, fmt.Errorf("%w: event store id is required", ErrInvalidUpdate)
	}

	stored := *event
	if stored.Timestamp.IsZero() {
		stored.Timestamp = s.now()
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		events := tx.Bucket(bucketEvents)
		seq, err := events.NextSequence()
		if err != nil {
			return err
		}
		stored.ID = seq

		data, err := json.Marshal(&stored)
		if err != nil {
			return err
		}
		if err := events.Put(seqKey(seq), data); err != nil {
			return err
		}
		return tx.Bucket(bucketStoreEvents).Put(storeEventKey(stored.StoreID, seq), []byte{})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	return &stored, nil
}

// ListEvents returns the events of one store in insertion order
func (s *BoltStore) ListEvents(ctx context.Context, storeID string) ([]*types.StoreEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*types.StoreEvent
	prefix := storeEventPrefix(storeID)
	err := s.db.View(func(tx *bolt.Tx) error {
		events := tx.Bucket(bucketEvents)
		c := tx.Bucket(bucketStoreEvents).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			data := events.Get(k[len(prefix):])
			if data == nil {
				continue
			}
			var ev types.StoreEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				return err
			}
			out = append(out, &ev)
		}
		return nil
	})
	return out, err
}

// ListRecentEvents returns up to limit events, newest first
func (s *BoltStore) ListRecentEvents(ctx context.Context, limit int) ([]*types.StoreEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	var out []*types.StoreEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var ev types.StoreEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			out = append(out, &ev)
		}
		return nil
	})
	return out, err
}

// DefaultEventLimit bounds ListRecentEvents when no limit is given
const DefaultEventLimit = 100

func getRecord(b *bolt.Bucket, id string) (*types.StoreRecord, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var rec types.StoreRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode store %s: %w", id, err)
	}
	return &rec, nil
}

func putRecord(b *bolt.Bucket, rec *types.StoreRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.ID), data)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func storeEventPrefix(storeID string) []byte {
	return append([]byte(storeID), 0)
}

func storeEventKey(storeID string, seq uint64) []byte {
	return append(storeEventPrefix(storeID), seqKey(seq)...)
}
