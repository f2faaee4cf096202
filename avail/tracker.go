// Package avail runs bulk availability passes. A pass walks a source's
// listing pages and reconciles the catalog's available flags, with safety
// gates so a broken walk can never mark a whole site sold.
package avail

import (
	"context"
	"log/slog"
	"time"

	"github.com/peposaru/milivault/catalog"
	"github.com/peposaru/milivault/profile"
	"github.com/peposaru/milivault/tiles"
)

// Result summarizes one cohort pass.
type Result struct {
	Site          string
	PagesWalked   int
	TotalSeen     int
	MarkedSold    int64
	SkippedUnsafe bool
	SkippedAll    bool // every profile was a sold archive
}

// Tracker reconciles availability for one cohort at a time.
type Tracker struct {
	Fetcher tiles.PageFetcher
	Store   *catalog.Store
	Logger  *slog.Logger

	// MinPages and MinRate are the safety gate thresholds for tile mode.
	MinPages int
	MinRate  float64
	// TargetMatch is passed through to the walker.
	TargetMatch int
}

// New creates a Tracker with the standard gate thresholds.
func New(f tiles.PageFetcher, store *catalog.Store, logger *slog.Logger) *Tracker {
	return &Tracker{
		Fetcher:     f,
		Store:       store,
		Logger:      logger,
		MinPages:    5,
		MinRate:     0.10,
		TargetMatch: 1,
	}
}

// CheckCohort walks every profile sharing a source_name and applies the
// cohort's bulk availability mode. Sold-archive profiles never participate:
// their listing pages are the sold archive, so absence there means nothing.
func (tr *Tracker) CheckCohort(ctx context.Context, cohort []*profile.SiteProfile) (*Result, error) {
	var active []*profile.SiteProfile
	for _, p := range cohort {
		if p.IsSoldArchive {
			tr.Logger.Info("sold archive excluded from availability", "site", p.SourceName, "desc", p.JSONDesc)
			continue
		}
		active = append(active, p)
	}
	if len(active) == 0 {
		return &Result{SkippedAll: true}, nil
	}

	site := active[0].SourceName
	mode := active[0].BulkAvailabilityMode
	logger := tr.Logger.With("site", site)
	res := &Result{Site: site}
	start := time.Now().UnixMilli()

	seen := map[string]bool{}
	soldNow := map[string]bool{}

	for _, p := range active {
		w := tiles.NewWalker(p, tr.Fetcher, tr.Logger)
		if tr.TargetMatch > 0 {
			w.TargetMatch = tr.TargetMatch
		}
		var c tiles.Counters
		c.Reset(p.Access.PageStart)
		err := w.Walk(ctx, &c, func(page []tiles.Tile) error {
			urls := make([]string, 0, len(page))
			for _, t := range page {
				seen[t.URL] = true
				urls = append(urls, t.URL)
				if mode == profile.ModeTile && !t.Available {
					// Explicit sold signals apply immediately, gates or not.
					changed, err := tr.Store.SetAvailability(ctx, site, t.URL, false)
					if err != nil {
						return err
					}
					if changed {
						res.MarkedSold++
					}
					soldNow[t.URL] = true
				}
			}
			if mode == profile.ModeLastSeen {
				return tr.Store.TouchLastSeen(ctx, site, urls, time.Now().UnixMilli())
			}
			return nil
		})
		if err != nil {
			return res, err
		}
		res.PagesWalked += c.PagesWalked
		res.TotalSeen += c.TotalSeen
	}

	switch mode {
	case profile.ModeLastSeen:
		n, err := tr.Store.MarkStaleUnavailable(ctx, site, start)
		if err != nil {
			return res, err
		}
		res.MarkedSold += n
	default:
		if err := tr.sweepTileMode(ctx, logger, site, seen, soldNow, res); err != nil {
			return res, err
		}
	}
	logger.Info("availability pass done",
		"pages", res.PagesWalked, "seen", res.TotalSeen,
		"marked_sold", res.MarkedSold, "skipped_unsafe", res.SkippedUnsafe)
	return res, nil
}

// sweepTileMode marks unseen listings sold, unless the pass looks broken.
func (tr *Tracker) sweepTileMode(ctx context.Context, logger *slog.Logger, site string, seen, soldNow map[string]bool, res *Result) error {
	stats, err := tr.Store.AvailabilityStats(ctx, site)
	if err != nil {
		return err
	}
	total := stats.Total
	if total < 1 {
		total = 1
	}
	rate := float64(res.TotalSeen) / float64(total)

	if res.PagesWalked < tr.MinPages || res.TotalSeen == 0 || rate < tr.MinRate {
		// A short or thin walk means selector drift or a site outage, not a
		// mass sell-off. Refuse the sweep and say so loudly.
		logger.Error("availability sweep refused by safety gate",
			"critical", true,
			"pages", res.PagesWalked, "seen", res.TotalSeen,
			"rate", rate, "db_total", stats.Total)
		res.SkippedUnsafe = true
		return nil
	}

	availURLs, err := tr.Store.AvailableURLs(ctx, site)
	if err != nil {
		return err
	}
	var unseen []string
	for _, u := range availURLs {
		if !seen[u] && !soldNow[u] {
			unseen = append(unseen, u)
		}
	}
	n, err := tr.Store.MarkUnavailableByURLs(ctx, site, unseen)
	if err != nil {
		return err
	}
	res.MarkedSold += n
	return nil
}
