// Package store persists the scheduler event ledger using SQLite.
//
// # Architecture
//
// Store is the interface consumed by the HTTP API and the service assembly.
// SQLiteStore implements it on modernc.org/sqlite; MockStore is an in-memory
// implementation for tests.
//
// The live schedule is not persisted: reservations are owned by the engine
// and rebuilt by clients after a restart. The ledger is an append-only audit
// trail of every event the engine published.
//
// # Data Models
//
//   - LedgerEvent: one persisted events.Event with indexed copies of its
//     device, reservation, requester, task and reason fields
//
// EventSink adapts a Store to events.Publisher. It buffers events and writes
// them from its Run goroutine so the engine never waits on disk.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// # Error Handling
//
//   - ErrNotFound: requested event does not exist
//   - ErrDuplicateEvent: event ID already recorded
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
// for integration tests with real SQLite.
package store
