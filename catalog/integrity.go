package catalog

import (
	"context"
	"fmt"
	"time"
)

// IntegrityReport summarizes one consistency sweep.
type IntegrityReport struct {
	DateSoldBackfilled int64 // sold rows that were missing date_sold
	ImageMismatches    int64 // rows whose image URL lists disagree in length
}

// RepairIntegrity fixes what it safely can and flags the rest.
//
// Sold rows with no date_sold predate the schema trigger; they are
// backfilled with date_modified (or date when that is also absent).
// Rows whose original and mirrored image lists disagree in length are
// flagged requires_attention rather than guessed at.
func (s *Store) RepairIntegrity(ctx context.Context) (IntegrityReport, error) {
	var rep IntegrityReport

	res, err := s.exec(ctx,
		`UPDATE militaria
		SET date_sold = COALESCE(date_modified, date)
		WHERE available = 0 AND date_sold IS NULL`)
	if err != nil {
		return rep, fmt.Errorf("catalog: backfill date_sold: %w", err)
	}
	rep.DateSoldBackfilled, _ = res.RowsAffected()

	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, original_image_urls, s3_image_urls FROM militaria
		WHERE requires_attention = 0 AND image_download_failed = 0
		  AND s3_image_urls != '[]'`)
	if err != nil {
		return rep, fmt.Errorf("catalog: integrity scan: %w", err)
	}
	defer rows.Close()

	var mismatched []int64
	for rows.Next() {
		var id int64
		var orig, mirrored string
		if err := rows.Scan(&id, &orig, &mirrored); err != nil {
			return rep, fmt.Errorf("catalog: integrity scan row: %w", err)
		}
		if len(decodeStrings(orig)) != len(decodeStrings(mirrored)) {
			mismatched = append(mismatched, id)
		}
	}
	if err := rows.Err(); err != nil {
		return rep, err
	}

	now := time.Now().UnixMilli()
	for _, id := range mismatched {
		if _, err := s.exec(ctx,
			`UPDATE militaria SET requires_attention = 1, date_modified = ?
			WHERE id = ?`, now, id); err != nil {
			return rep, fmt.Errorf("catalog: flag mismatch %d: %w", id, err)
		}
		rep.ImageMismatches++
	}
	return rep, nil
}
