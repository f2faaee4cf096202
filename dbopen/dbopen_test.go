package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestOpenMemory(t *testing.T) {
	// WHAT: In-memory open applies pragmas and pings.
	// WHY: Every store test builds on this helper.
	db := OpenMemory(t)
	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys: got %d, want 1", fk)
	}
}

func TestOpenWithSchema(t *testing.T) {
	// WHAT: WithSchema executes DDL before the open returns.
	// WHY: The catalog applies its schema through this path.
	db := OpenMemory(t, WithSchema(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`))
	if _, err := db.Exec(`INSERT INTO items (name) VALUES ('helmet')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestOpenMkdirAll(t *testing.T) {
	// WHAT: WithMkdirAll creates missing parent directories.
	// WHY: First run on a fresh host has no data dir.
	path := filepath.Join(t.TempDir(), "nested", "deep", "catalog.db")
	db, err := Open(path, WithMkdirAll())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.Close()
}

func TestRunTxRollsBackOnError(t *testing.T) {
	// WHAT: RunTx rolls back when fn returns an error.
	// WHY: Multi-statement catalog writes must be atomic.
	db := OpenMemory(t, WithSchema(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`))
	ctx := context.Background()

	wantErr := errors.New("boom")
	err := RunTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items (name) VALUES ('a')`); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err: got %v, want %v", err, wantErr)
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n)
	if n != 0 {
		t.Errorf("rows after rollback: got %d, want 0", n)
	}
}

func TestIsBusy(t *testing.T) {
	// WHAT: Busy detection matches the known SQLite messages.
	// WHY: Retry must not trigger on unrelated errors.
	if IsBusy(nil) {
		t.Error("nil should not be busy")
	}
	if !IsBusy(errors.New("SQLITE_BUSY: database is locked")) {
		t.Error("SQLITE_BUSY should be busy")
	}
	if IsBusy(errors.New("UNIQUE constraint failed")) {
		t.Error("constraint error should not be busy")
	}
}

func TestIsClosed(t *testing.T) {
	// WHAT: Closed-connection detection for the gateway retry path.
	// WHY: The reconnect-once contract keys off this classification.
	if !IsClosed(errors.New("sql: database is closed")) {
		t.Error("closed db should be detected")
	}
	if IsClosed(errors.New("no such table: militaria")) {
		t.Error("schema error should not read as closed")
	}
}
