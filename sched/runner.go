package sched

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/peposaru/milivault/avail"
	"github.com/peposaru/milivault/catalog"
	"github.com/peposaru/milivault/detail"
	"github.com/peposaru/milivault/fetch"
	"github.com/peposaru/milivault/profile"
	"github.com/peposaru/milivault/tiles"
)

// PipelineRunner wires the real pipeline behind the scheduler: tile walks,
// detail fetches, availability tracking, and the integrity sweep. Every
// pass leaves a scrape_log row.
type PipelineRunner struct {
	Fetcher *fetch.Fetcher
	Store   *catalog.Store
	Tracker *avail.Tracker
	Logger  *slog.Logger

	// NewImages builds the per-site image acquirer; nil disables imagery.
	NewImages func(p *profile.SiteProfile) detail.ImageAcquirer
	// Classifier and Embedder are optional enrichment capabilities.
	Classifier detail.Classifier
	Embedder   detail.Embedder
	// TargetMatch is forwarded to walkers; raise it for deep backfills.
	TargetMatch int
	// Limiter overrides the default detail-fetch pacing when set.
	Limiter *fetch.RateLimiter
}

// Availability runs the tracker over one cohort and records the pass.
func (r *PipelineRunner) Availability(ctx context.Context, cohort []*profile.SiteProfile) error {
	start := time.Now()
	res, err := r.Tracker.CheckCohort(ctx, cohort)
	entry := &catalog.ScrapeLogEntry{
		ID:        uuid.NewString(),
		Site:      cohort[0].SourceName,
		Kind:      "availability",
		Status:    "ok",
		StartedAt: start.UnixMilli(),
	}
	if res != nil {
		entry.PagesWalked = res.PagesWalked
		entry.TotalSeen = res.TotalSeen
		entry.MarkedSold = int(res.MarkedSold)
		if res.SkippedUnsafe {
			entry.Status = "skipped_unsafe"
		}
	}
	if err != nil {
		entry.Status = "error"
		entry.ErrorMessage = err.Error()
	}
	entry.DurationMs = time.Since(start).Milliseconds()
	if logErr := r.Store.InsertScrapeLog(ctx, entry); logErr != nil {
		r.Logger.Warn("scrape log write failed", "err", logErr)
	}
	return err
}

// Scrape walks one profile, classifies tiles against the pass snapshot, and
// sends only new or drifted listings through the detail processor.
func (r *PipelineRunner) Scrape(ctx context.Context, p *profile.SiteProfile) error {
	start := time.Now()
	logger := r.Logger.With("site", p.SourceName)

	snap, err := r.Store.Snapshot(ctx, p.SourceName)
	if err != nil {
		return err
	}

	proc := detail.New(p, r.Fetcher, r.Store, r.Logger)
	proc.Classifier = r.Classifier
	proc.Embedder = r.Embedder
	if r.Limiter != nil {
		proc.Limiter = r.Limiter
	}
	if r.NewImages != nil {
		proc.Images = r.NewImages(p)
	}

	w := tiles.NewWalker(p, r.Fetcher, r.Logger)
	if r.TargetMatch > 0 {
		w.TargetMatch = r.TargetMatch
	}

	var c tiles.Counters
	c.Reset(p.Access.PageStart)
	walkErr := w.Walk(ctx, &c, func(page []tiles.Tile) error {
		for _, t := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			switch tiles.Classify(snap, t) {
			case tiles.Unchanged:
				c.UnchangedCount++
			case tiles.AvailabilityUpdate:
				changed, err := r.Store.SetAvailability(ctx, p.SourceName, t.URL, t.Available)
				if err != nil {
					return err
				}
				if changed {
					c.AvailUpdates++
					if !t.Available {
						c.MarkedSold++
					}
				}
			case tiles.NeedsDetail:
				if err := proc.Process(ctx, t, &c); err != nil {
					logger.Warn("item skipped", "url", t.URL, "err", err)
				}
			}
		}
		return nil
	})

	entry := &catalog.ScrapeLogEntry{
		ID:             uuid.NewString(),
		Site:           p.SourceName,
		Kind:           "scrape",
		Status:         "ok",
		PagesWalked:    c.PagesWalked,
		TotalSeen:      c.TotalSeen,
		NewCount:       c.NewCount,
		UnchangedCount: c.UnchangedCount,
		AvailUpdates:   c.AvailUpdates,
		MarkedSold:     c.MarkedSold,
		DurationMs:     time.Since(start).Milliseconds(),
		StartedAt:      start.UnixMilli(),
	}
	if walkErr != nil {
		entry.Status = "error"
		entry.ErrorMessage = walkErr.Error()
	}
	if logErr := r.Store.InsertScrapeLog(ctx, entry); logErr != nil {
		logger.Warn("scrape log write failed", "err", logErr)
	}
	return walkErr
}

// Integrity pings the catalog and runs the repair sweep.
func (r *PipelineRunner) Integrity(ctx context.Context) error {
	start := time.Now()
	entry := &catalog.ScrapeLogEntry{
		ID:        uuid.NewString(),
		Site:      "_catalog",
		Kind:      "integrity",
		Status:    "ok",
		StartedAt: start.UnixMilli(),
	}
	err := r.Store.Ping(ctx)
	if err == nil {
		var rep catalog.IntegrityReport
		rep, err = r.Store.RepairIntegrity(ctx)
		if err == nil {
			r.Logger.Info("integrity sweep done",
				"date_sold_backfilled", rep.DateSoldBackfilled,
				"image_mismatches", rep.ImageMismatches)
		}
	}
	if err != nil {
		entry.Status = "error"
		entry.ErrorMessage = err.Error()
	}
	entry.DurationMs = time.Since(start).Milliseconds()
	if logErr := r.Store.InsertScrapeLog(ctx, entry); logErr != nil {
		r.Logger.Warn("scrape log write failed", "err", logErr)
	}
	return err
}
