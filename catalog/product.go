package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

const productColumns = `id, site, url, title, description, price, currency, available,
	date, date_modified, date_sold, last_seen,
	extracted_id, item_type, grade, conflict, nation, categories,
	price_history, original_image_urls, s3_image_urls, s3_first_image_thumbnail,
	image_download_failed, requires_attention,
	openai_vector, conflict_ai_generated, nation_ai_generated,
	item_type_ai_generated, supergroup_ai_generated`

// InsertProduct adds a new row and returns its id. Date defaults to now.
func (s *Store) InsertProduct(ctx context.Context, p *Product) (int64, error) {
	if p.Date == 0 {
		p.Date = time.Now().UnixMilli()
	}
	res, err := s.exec(ctx,
		`INSERT INTO militaria (site, url, title, description, price, currency, available,
		date, date_modified, date_sold, last_seen,
		extracted_id, item_type, grade, conflict, nation, categories,
		price_history, original_image_urls, s3_image_urls, s3_first_image_thumbnail,
		image_download_failed, requires_attention,
		openai_vector, conflict_ai_generated, nation_ai_generated,
		item_type_ai_generated, supergroup_ai_generated)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.Site, p.URL, p.Title, p.Description, p.Price, p.Currency, p.Available,
		p.Date, p.DateModified, p.DateSold, p.LastSeen,
		p.ExtractedID, p.ItemType, p.Grade, p.Conflict, p.Nation, p.Categories,
		encodeFloats(p.PriceHistory), encodeStrings(p.OriginalImageURLs),
		encodeStrings(p.S3ImageURLs), p.S3Thumbnail,
		p.ImageFailed, p.RequiresAttention,
		encodeFloats(p.Vector), p.ConflictAI, p.NationAI, p.ItemTypeAI, p.SupergroupAI,
	)
	if err != nil {
		return 0, fmt.Errorf("catalog: insert product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("catalog: insert product id: %w", err)
	}
	p.ID = id
	return id, nil
}

// GetProduct retrieves a row by (site, url). Returns nil when absent.
func (s *Store) GetProduct(ctx context.Context, site, url string) (*Product, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM militaria WHERE site = ? AND url = ?`, site, url)
	return scanProduct(row)
}

// GetProductByID retrieves a row by surrogate id. Returns nil when absent.
func (s *Store) GetProductByID(ctx context.Context, id int64) (*Product, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM militaria WHERE id = ?`, id)
	return scanProduct(row)
}

// updatableColumns is the allowlist for field-diff updates.
var updatableColumns = map[string]bool{
	"title": true, "description": true, "price": true, "currency": true,
	"available": true, "extracted_id": true, "item_type": true, "grade": true,
	"conflict": true, "nation": true, "categories": true, "price_history": true,
	"conflict_ai_generated": true, "nation_ai_generated": true,
	"item_type_ai_generated": true, "supergroup_ai_generated": true,
	"openai_vector": true,
}

// UpdateProductFields updates only the given columns and always bumps
// date_modified. Column names outside the allowlist are programmer errors.
func (s *Store) UpdateProductFields(ctx context.Context, id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !updatableColumns[col] {
			return fmt.Errorf("catalog: column %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var sets []string
	var args []any
	for _, col := range cols {
		sets = append(sets, col+" = ?")
		args = append(args, fields[col])
	}
	sets = append(sets, "date_modified = ?")
	args = append(args, time.Now().UnixMilli(), id)

	_, err := s.exec(ctx,
		`UPDATE militaria SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("catalog: update product %d: %w", id, err)
	}
	return nil
}

// SetAvailability flips one row's availability by (site, url). The schema
// trigger takes care of date_sold on the sold transition. Returns whether a
// row changed.
func (s *Store) SetAvailability(ctx context.Context, site, url string, available bool) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE militaria SET available = ?, date_modified = ?
		WHERE site = ? AND url = ? AND available != ?`,
		available, time.Now().UnixMilli(), site, url, available)
	if err != nil {
		return false, fmt.Errorf("catalog: set availability: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetImages records the parallel image URL lists.
func (s *Store) SetImages(ctx context.Context, id int64, original, s3 []string) error {
	_, err := s.exec(ctx,
		`UPDATE militaria SET original_image_urls = ?, s3_image_urls = ?,
		image_download_failed = 0, date_modified = ? WHERE id = ?`,
		encodeStrings(original), encodeStrings(s3), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("catalog: set images: %w", err)
	}
	return nil
}

// SetThumbnail records the first-image thumbnail location.
func (s *Store) SetThumbnail(ctx context.Context, id int64, url string) error {
	_, err := s.exec(ctx,
		`UPDATE militaria SET s3_first_image_thumbnail = ? WHERE id = ?`, url, id)
	if err != nil {
		return fmt.Errorf("catalog: set thumbnail: %w", err)
	}
	return nil
}

// MarkImageFailed flags a product whose imagery could not be acquired so
// future passes skip it.
func (s *Store) MarkImageFailed(ctx context.Context, id int64) error {
	_, err := s.exec(ctx,
		`UPDATE militaria SET image_download_failed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("catalog: mark image failed: %w", err)
	}
	return nil
}

// MarkRequiresAttention flags a product for manual review.
func (s *Store) MarkRequiresAttention(ctx context.Context, id int64) error {
	_, err := s.exec(ctx,
		`UPDATE militaria SET requires_attention = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("catalog: mark requires attention: %w", err)
	}
	return nil
}

func scanProduct(row *sql.Row) (*Product, error) {
	var p Product
	var available, imageFailed, requiresAttention int
	var priceHistory, origImages, s3Images, vector string
	err := row.Scan(
		&p.ID, &p.Site, &p.URL, &p.Title, &p.Description, &p.Price, &p.Currency, &available,
		&p.Date, &p.DateModified, &p.DateSold, &p.LastSeen,
		&p.ExtractedID, &p.ItemType, &p.Grade, &p.Conflict, &p.Nation, &p.Categories,
		&priceHistory, &origImages, &s3Images, &p.S3Thumbnail,
		&imageFailed, &requiresAttention,
		&vector, &p.ConflictAI, &p.NationAI, &p.ItemTypeAI, &p.SupergroupAI,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: scan product: %w", err)
	}
	p.Available = available != 0
	p.ImageFailed = imageFailed != 0
	p.RequiresAttention = requiresAttention != 0
	p.PriceHistory = decodeFloats(priceHistory)
	p.OriginalImageURLs = decodeStrings(origImages)
	p.S3ImageURLs = decodeStrings(s3Images)
	p.Vector = decodeFloats(vector)
	return &p, nil
}
