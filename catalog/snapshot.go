package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/peposaru/milivault/dbopen"
)

// Snapshot loads the per-URL projection for one site. Built once at the
// start of a pass; the tile differ reads it instead of the database.
func (s *Store) Snapshot(ctx context.Context, site string) (Snapshot, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT url, title, price, available, description, price_history
		FROM militaria WHERE site = ?`, site)
	if err != nil {
		return nil, fmt.Errorf("catalog: snapshot: %w", err)
	}
	defer rows.Close()

	snap := Snapshot{}
	for rows.Next() {
		var url, title, description, history string
		var price *float64
		var available int
		if err := rows.Scan(&url, &title, &price, &available, &description, &history); err != nil {
			return nil, fmt.Errorf("catalog: snapshot scan: %w", err)
		}
		snap[url] = SnapshotRow{
			Title:        title,
			Price:        price,
			Available:    available != 0,
			Description:  description,
			PriceHistory: decodeFloats(history),
		}
	}
	return snap, rows.Err()
}

// AvailabilityStats counts one site's rows by availability.
func (s *Store) AvailabilityStats(ctx context.Context, site string) (Stats, error) {
	var st Stats
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN available = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN available = 0 THEN 1 ELSE 0 END), 0)
		FROM militaria WHERE site = ?`, site).Scan(&st.Total, &st.Available, &st.Sold)
	if err != nil {
		return st, fmt.Errorf("catalog: availability stats: %w", err)
	}
	return st, nil
}

// AvailableURLs lists every URL currently marked available for a site.
func (s *Store) AvailableURLs(ctx context.Context, site string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT url FROM militaria WHERE site = ? AND available = 1`, site)
	if err != nil {
		return nil, fmt.Errorf("catalog: available urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("catalog: available urls scan: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// MarkUnavailableByURLs flips the given URLs to sold in one transaction.
// Returns the number of rows actually changed.
func (s *Store) MarkUnavailableByURLs(ctx context.Context, site string, urls []string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	now := time.Now().UnixMilli()
	var changed int64
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE militaria SET available = 0, date_modified = ?
			WHERE site = ? AND url = ? AND available = 1`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range urls {
			res, err := stmt.ExecContext(ctx, now, site, u)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			changed += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("catalog: mark unavailable: %w", err)
	}
	return changed, nil
}

// TouchLastSeen stamps last_seen=now for every given URL (last_seen mode).
func (s *Store) TouchLastSeen(ctx context.Context, site string, urls []string, now int64) error {
	if len(urls) == 0 {
		return nil
	}
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE militaria SET last_seen = ? WHERE site = ? AND url = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range urls {
			if _, err := stmt.ExecContext(ctx, now, site, u); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog: touch last_seen: %w", err)
	}
	return nil
}

// MarkStaleUnavailable flips rows not seen since cutoff to sold
// (last_seen mode). Returns the number of rows changed.
func (s *Store) MarkStaleUnavailable(ctx context.Context, site string, cutoff int64) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE militaria SET available = 0, date_modified = ?
		WHERE site = ? AND available = 1
		  AND (last_seen IS NULL OR last_seen < ?)`,
		time.Now().UnixMilli(), site, cutoff)
	if err != nil {
		return 0, fmt.Errorf("catalog: mark stale: %w", err)
	}
	return res.RowsAffected()
}
