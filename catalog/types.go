package catalog

// Product is one catalog row. Optional timestamps are pointers; absent
// price is a nil pointer so zero-priced and unpriced listings stay distinct.
type Product struct {
	ID          int64
	Site        string
	URL         string
	Title       string
	Description string
	Price       *float64
	Currency    string
	Available   bool

	Date         int64 // first observation, unix ms
	DateModified *int64
	DateSold     *int64
	LastSeen     *int64

	ExtractedID string
	ItemType    string
	Grade       string
	Conflict    string
	Nation      string
	Categories  string

	PriceHistory      []float64
	OriginalImageURLs []string
	S3ImageURLs       []string
	S3Thumbnail       string
	ImageFailed       bool
	RequiresAttention bool

	Vector       []float64
	ConflictAI   string
	NationAI     string
	ItemTypeAI   string
	SupergroupAI string
}

// SnapshotRow is the per-URL projection the tile differ compares against.
type SnapshotRow struct {
	Title        string
	Price        *float64
	Available    bool
	Description  string
	PriceHistory []float64
}

// Snapshot maps URL to its catalog projection for one site, built once per
// pass to avoid a round-trip per tile.
type Snapshot map[string]SnapshotRow

// Stats summarizes one site's availability counts.
type Stats struct {
	Available int
	Sold      int
	Total     int
}

// ScrapeLogEntry records one pass over one site.
type ScrapeLogEntry struct {
	ID             string
	Site           string
	Kind           string // scrape | availability | integrity
	Status         string // ok | error | skipped_unsafe
	PagesWalked    int
	TotalSeen      int
	NewCount       int
	UnchangedCount int
	AvailUpdates   int
	MarkedSold     int
	ErrorMessage   string
	DurationMs     int64
	StartedAt      int64
}
