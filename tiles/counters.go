package tiles

// Counters is the per-pass, per-site mutable state. One instance is created
// per pass and threaded explicitly through the pipeline; nothing here is
// process-wide.
type Counters struct {
	CurrentPage  int
	EmptyPageRun int
	PagesWalked  int

	TotalSeen      int
	NewCount       int
	UnchangedCount int
	AvailUpdates   int
	MarkedSold     int

	Continue bool
}

// Reset prepares the counters for a new pass starting at the given page.
func (c *Counters) Reset(startPage int) {
	*c = Counters{CurrentPage: startPage, Continue: true}
}
