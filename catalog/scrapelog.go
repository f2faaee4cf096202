package catalog

import (
	"context"
	"fmt"
)

// InsertScrapeLog records one finished pass.
func (s *Store) InsertScrapeLog(ctx context.Context, e *ScrapeLogEntry) error {
	_, err := s.exec(ctx,
		`INSERT INTO scrape_log (id, site, kind, status,
		pages_walked, total_seen, new_count, unchanged_count,
		availability_update_count, marked_sold,
		error_message, duration_ms, started_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Site, e.Kind, e.Status,
		e.PagesWalked, e.TotalSeen, e.NewCount, e.UnchangedCount,
		e.AvailUpdates, e.MarkedSold,
		e.ErrorMessage, e.DurationMs, e.StartedAt)
	if err != nil {
		return fmt.Errorf("catalog: insert scrape log: %w", err)
	}
	return nil
}

// RecentScrapeLogs returns the newest entries across all sites, newest first.
func (s *Store) RecentScrapeLogs(ctx context.Context, limit int) ([]ScrapeLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, site, kind, status,
		pages_walked, total_seen, new_count, unchanged_count,
		availability_update_count, marked_sold,
		error_message, duration_ms, started_at
		FROM scrape_log ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: recent scrape logs: %w", err)
	}
	defer rows.Close()

	var out []ScrapeLogEntry
	for rows.Next() {
		var e ScrapeLogEntry
		if err := rows.Scan(&e.ID, &e.Site, &e.Kind, &e.Status,
			&e.PagesWalked, &e.TotalSeen, &e.NewCount, &e.UnchangedCount,
			&e.AvailUpdates, &e.MarkedSold,
			&e.ErrorMessage, &e.DurationMs, &e.StartedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan scrape log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
