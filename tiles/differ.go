package tiles

import "github.com/peposaru/milivault/catalog"

// Class is the differ's verdict for one tile.
type Class int

const (
	// Unchanged means the catalog already matches the tile.
	Unchanged Class = iota
	// AvailabilityUpdate means only the available flag differs. The flip is
	// applied by URL; images and description are never touched on this path.
	AvailabilityUpdate
	// NeedsDetail means the URL is new or its tile data drifted; the product
	// page must be fetched.
	NeedsDetail
)

func (c Class) String() string {
	switch c {
	case Unchanged:
		return "unchanged"
	case AvailabilityUpdate:
		return "availability_update"
	case NeedsDetail:
		return "needs_detail"
	default:
		return "unknown"
	}
}

// Classify compares one tile against the pass snapshot. The detail page is
// the expensive fetch; tile data settles the common cases (no-op or
// availability flip) without it.
func Classify(snap catalog.Snapshot, t Tile) Class {
	row, ok := snap[t.URL]
	if !ok {
		return NeedsDetail
	}
	if row.Title != t.Title || !priceMatches(row.Price, t.Price) {
		return NeedsDetail
	}
	if row.Available != t.Available {
		return AvailabilityUpdate
	}
	return Unchanged
}

// priceMatches treats an absent tile price as no signal rather than a
// difference; profiles without a tile price selector would otherwise
// re-fetch every priced listing on every pass.
func priceMatches(db, tile *float64) bool {
	if tile == nil {
		return true
	}
	if db == nil {
		return false
	}
	return *db == *tile
}
