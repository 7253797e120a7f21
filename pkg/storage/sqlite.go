package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/storeforge/pkg/types"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const storeColumns = `id, name, engine, template, namespace, status, url, error_message, created_at, updated_at, version`

// SQLiteStore implements Store interface using SQLite.
// The pool is limited to one connection so writes never race each other.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens or creates <dataDir>/storeforge.sqlite
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return openSQLite(filepath.Join(dataDir, sqliteFile))
}

func openSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateStore(ctx context.Context, rec *types.StoreRecord) error {
	if err := prepareCreate(rec, s.now()); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stores (`+storeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, string(rec.Engine), rec.Template, rec.Namespace, string(rec.Status),
		rec.URL, rec.ErrorMessage, rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(), rec.Version,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.ID)
		}
		return fmt.Errorf("failed to insert store: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetStore(ctx context.Context, id string) (*types.StoreRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListStores(ctx context.Context) ([]*types.StoreRecord, error) {
	return s.queryRecords(ctx, `SELECT `+storeColumns+` FROM stores ORDER BY created_at DESC, id DESC`)
}

func (s *SQLiteStore) ListStoresByStatus(ctx context.Context, statuses ...types.Status) ([]*types.StoreRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return s.queryRecords(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE status IN (`+placeholders+`) ORDER BY created_at ASC, id ASC`,
		args...)
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]*types.StoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stores: %w", err)
	}
	defer rows.Close()

	var recs []*types.StoreRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan store: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// UpdateStatus reads, validates and writes inside one transaction. The
// version predicate on the UPDATE turns a lost race into ErrConflict.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*types.StoreRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store %s: %w", id, err)
	}

	prevVersion := rec.Version
	if err := applyStatusUpdate(rec, update, s.now()); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE stores SET status = ?, url = ?, error_message = ?, updated_at = ?, version = ?
		 WHERE id = ? AND version = ?`,
		string(rec.Status), rec.URL, rec.ErrorMessage, rec.UpdatedAt.UnixNano(), rec.Version,
		id, prevVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update store %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("%w: store %s modified concurrently", ErrConflict, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit store %s: %w", id, err)
	}
	return rec, nil
}

// DeleteStore removes the record; its events are kept for audit
func (s *SQLiteStore) DeleteStore(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM stores WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete store %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, event *types.StoreEvent) (*types.StoreEvent, error) {
	if event.StoreID == "" {
		return nil, fmt.Errorf("%w: event store id is required", ErrInvalidUpdate)
	}

	stored := *event
	if stored.Timestamp.IsZero() {
		stored.Timestamp = s.now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO store_events (store_id, action, status, message, error, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		stored.StoreID, string(stored.Action), string(stored.Status), stored.Message, stored.Error,
		stored.Timestamp.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read event id: %w", err)
	}
	stored.ID = uint64(id)
	return &stored, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, storeID string) ([]*types.StoreEvent, error) {
	return s.queryEvents(ctx,
		`SELECT id, store_id, action, status, message, error, timestamp FROM store_events WHERE store_id = ? ORDER BY id ASC`,
		storeID)
}

func (s *SQLiteStore) ListRecentEvents(ctx context.Context, limit int) ([]*types.StoreEvent, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	return s.queryEvents(ctx,
		`SELECT id, store_id, action, status, message, error, timestamp FROM store_events ORDER BY id DESC LIMIT ?`,
		limit)
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]*types.StoreEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*types.StoreEvent
	for rows.Next() {
		var (
			ev             types.StoreEvent
			action, status string
			ts             int64
		)
		if err := rows.Scan(&ev.ID, &ev.StoreID, &action, &status, &ev.Message, &ev.Error, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Action = types.Action(action)
		ev.Status = types.Status(status)
		ev.Timestamp = time.Unix(0, ts)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.StoreRecord, error) {
	var (
		rec                  types.StoreRecord
		engine, status       string
		createdAt, updatedAt int64
	)
	err := row.Scan(&rec.ID, &rec.Name, &engine, &rec.Template, &rec.Namespace, &status,
		&rec.URL, &rec.ErrorMessage, &createdAt, &updatedAt, &rec.Version)
	if err != nil {
		return nil, err
	}
	rec.Engine = types.Engine(engine)
	rec.Status = types.Status(status)
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.UpdatedAt = time.Unix(0, updatedAt)
	return &rec, nil
}
