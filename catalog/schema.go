package catalog

import "database/sql"

// Schema is the complete catalog schema. The militaria table keeps the
// historical name; a listing is unique per (site, url).
//
// The date_sold trigger is the single place that policy lives: the
// application never writes date_sold directly on the availability path.
const Schema = `
CREATE TABLE IF NOT EXISTS militaria (
    id                        INTEGER PRIMARY KEY AUTOINCREMENT,
    site                      TEXT NOT NULL,
    url                       TEXT NOT NULL,
    title                     TEXT NOT NULL DEFAULT '',
    description               TEXT NOT NULL DEFAULT '',
    price                     REAL,
    currency                  TEXT NOT NULL DEFAULT '',
    available                 INTEGER NOT NULL DEFAULT 1,
    date                      INTEGER NOT NULL,
    date_modified             INTEGER,
    date_sold                 INTEGER,
    last_seen                 INTEGER,
    extracted_id              TEXT NOT NULL DEFAULT '',
    item_type                 TEXT NOT NULL DEFAULT '',
    grade                     TEXT NOT NULL DEFAULT '',
    conflict                  TEXT NOT NULL DEFAULT '',
    nation                    TEXT NOT NULL DEFAULT '',
    categories                TEXT NOT NULL DEFAULT '',
    price_history             TEXT NOT NULL DEFAULT '[]',
    original_image_urls       TEXT NOT NULL DEFAULT '[]',
    s3_image_urls             TEXT NOT NULL DEFAULT '[]',
    s3_first_image_thumbnail  TEXT NOT NULL DEFAULT '',
    image_download_failed     INTEGER NOT NULL DEFAULT 0,
    requires_attention        INTEGER NOT NULL DEFAULT 0,
    openai_vector             TEXT NOT NULL DEFAULT '[]',
    conflict_ai_generated     TEXT NOT NULL DEFAULT '',
    nation_ai_generated       TEXT NOT NULL DEFAULT '',
    item_type_ai_generated    TEXT NOT NULL DEFAULT '',
    supergroup_ai_generated   TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_militaria_site_url ON militaria(site, url);
CREATE INDEX IF NOT EXISTS idx_militaria_site_available ON militaria(site, available);
CREATE INDEX IF NOT EXISTS idx_militaria_last_seen ON militaria(site, last_seen);

-- date_sold is set exactly once, on the first available 1 -> 0 transition.
CREATE TRIGGER IF NOT EXISTS militaria_date_sold
AFTER UPDATE OF available ON militaria
WHEN old.available = 1 AND new.available = 0 AND new.date_sold IS NULL
BEGIN
    UPDATE militaria
    SET date_sold = CAST(strftime('%s','now') AS INTEGER) * 1000
    WHERE id = new.id;
END;

-- One row per pass per site (observability).
CREATE TABLE IF NOT EXISTS scrape_log (
    id                        TEXT PRIMARY KEY,
    site                      TEXT NOT NULL,
    kind                      TEXT NOT NULL,
    status                    TEXT NOT NULL,
    pages_walked              INTEGER NOT NULL DEFAULT 0,
    total_seen                INTEGER NOT NULL DEFAULT 0,
    new_count                 INTEGER NOT NULL DEFAULT 0,
    unchanged_count           INTEGER NOT NULL DEFAULT 0,
    availability_update_count INTEGER NOT NULL DEFAULT 0,
    marked_sold               INTEGER NOT NULL DEFAULT 0,
    error_message             TEXT NOT NULL DEFAULT '',
    duration_ms               INTEGER NOT NULL DEFAULT 0,
    started_at                INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scrape_log_site ON scrape_log(site, started_at DESC);
`

// ApplySchema creates all tables, indexes, and triggers.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
