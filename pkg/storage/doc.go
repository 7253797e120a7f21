/*
Package storage provides durable persistence for store records and their
audit events.

The Store interface is the only mutable state shared by storeforge
components. It is also the single writer of status transitions: callers ask
for a transition with UpdateStatus and the implementation enforces the record
invariants (URL only when READY, error message only when FAILED) and the
optimistic expected-status check in one place.

# Implementations

BoltStore keeps everything in <dataDir>/storeforge.db:

	stores        store ID        → JSON StoreRecord
	events        big-endian seq  → JSON StoreEvent
	store_events  ID 0x00 seq     → (empty)   per-store index into events

SQLiteStore keeps the same data in <dataDir>/storeforge.sqlite using the
tables in schema.sql. It is the default driver because its WAL journal lets
CLI commands write while serve is running. bbolt holds an exclusive file
lock for as long as a process has the database open; with storage.driver:
bolt only one storeforge process can use the data directory at a time.

Migrate copies records and events from one implementation to the other.

# Concurrency

bbolt serializes read-write transactions, so the read-check-write inside
UpdateStatus is atomic. The SQLite implementation runs on a single pooled
connection and additionally guards the UPDATE with the record version; a lost
race surfaces as ErrConflict.

# Audit Events

Events are append-only and are never removed, including when DeleteStore
purges the record they refer to.

	ev, err := store.AppendEvent(ctx, &types.StoreEvent{
		StoreID: rec.ID,
		Action:  types.ActionReady,
		Status:  types.StatusReady,
		Message: "Store is ready at " + rec.URL,
	})
*/
package storage
