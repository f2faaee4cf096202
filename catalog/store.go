// Package catalog is the typed gateway to the relational store. All reads
// and writes of the militaria table go through it; every operation is a
// single transaction, and broken connections are retried once after a ping.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/peposaru/milivault/dbopen"
)

// Store wraps the catalog database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Ping verifies catalog liveness (SELECT 1).
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.DB.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("catalog: ping: %w", err)
	}
	return nil
}

// exec runs a write with the gateway retry contract: on a broken connection,
// ping (letting the pool replace the connection) and retry once.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := dbopen.Exec(ctx, s.DB, query, args...)
	if err != nil && dbopen.IsClosed(err) {
		if pingErr := s.DB.PingContext(ctx); pingErr != nil {
			return nil, fmt.Errorf("catalog: reconnect: %w", pingErr)
		}
		return dbopen.Exec(ctx, s.DB, query, args...)
	}
	return res, err
}

func encodeStrings(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func encodeFloats(v []float64) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeFloats(s string) []float64 {
	if s == "" || s == "[]" {
		return nil
	}
	var out []float64
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
