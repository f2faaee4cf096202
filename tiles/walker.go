// Package tiles walks a site's paginated listing and turns product cards
// into typed tiles. The walker owns pagination and end-of-catalog detection;
// the differ classifies tiles against the catalog snapshot so only changed
// listings pay for a detail fetch.
package tiles

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/peposaru/milivault/clean"
	"github.com/peposaru/milivault/fetch"
	"github.com/peposaru/milivault/profile"
	"github.com/peposaru/milivault/selector"
)

// Tile is one product card after extraction and cleaning.
type Tile struct {
	URL       string
	Title     string
	Price     *float64
	Available bool
}

// PageFetcher retrieves one listing page.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string, opts fetch.Options) (*fetch.Result, error)
}

// badPaths are listing links that are never product pages. Tiles pointing at
// them are dropped regardless of profile.
var badPaths = []string{"/cart", "/checkout", "/my-account", "/wishlist", "/contact"}

// Walker iterates a site's listing pages sequentially and yields valid tiles
// page by page. Pagination state is ordered, so a single profile never walks
// concurrently.
type Walker struct {
	Profile *profile.SiteProfile
	Fetcher PageFetcher
	Engine  *selector.Engine
	Logger  *slog.Logger

	// TargetMatch is the number of consecutive pages with zero valid tiles
	// tolerated before the walk ends. 1 for new-inventory sweeps; deep
	// backfills raise it to skate over holes in the pagination.
	TargetMatch int
	// MaxPages is a hard cap against pathological pagination.
	MaxPages int
	// BadURLs are extra exact URLs to drop, beyond the built-in bad paths.
	BadURLs map[string]bool
}

// NewWalker creates a Walker with default termination bounds.
func NewWalker(p *profile.SiteProfile, f PageFetcher, logger *slog.Logger) *Walker {
	return &Walker{
		Profile:     p,
		Fetcher:     f,
		Engine:      &selector.Engine{},
		Logger:      logger.With("site", p.SourceName),
		TargetMatch: 1,
		MaxPages:    500,
	}
}

// Walk fetches pages until end-of-catalog and calls visit once per page that
// produced at least one valid tile. Counters must be Reset by the caller;
// CurrentPage is taken from the profile's configured start.
//
// The walk ends when a page fetch fails, when EmptyPageRun reaches
// TargetMatch, or when the same URL set repeats twice in a row past page two
// (some sites pad the final page, so a single repeat is tolerated).
func (w *Walker) Walk(ctx context.Context, c *Counters, visit func(page []Tile) error) error {
	c.CurrentPage = w.Profile.Access.PageStart
	c.Continue = true
	defer func() { c.Continue = false }()

	opts := fetch.Options{
		Cookies:   w.Profile.Access.Cookies,
		UserAgent: w.Profile.Access.UserAgent,
	}
	seen := map[string]bool{}
	var prevSet map[string]bool
	repeat := 0

	for pages := 0; pages < w.MaxPages; pages++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pageURL := w.Profile.PageURL(c.CurrentPage)
		res, err := w.Fetcher.FetchPage(ctx, pageURL, opts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.Logger.Warn("page fetch failed, ending walk", "url", pageURL, "err", err)
			return nil
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
		if err != nil || len(res.Body) == 0 {
			w.Logger.Warn("unparseable page, ending walk", "url", pageURL)
			return nil
		}

		nodes, err := w.Engine.Nodes(doc.Selection, w.Profile.TileSelectors.Tiles)
		if err != nil {
			return fmt.Errorf("tiles: %s: %w", w.Profile.SourceName, err)
		}
		c.PagesWalked++

		pageSet := map[string]bool{}
		var valid []Tile
		nodes.Each(func(_ int, node *goquery.Selection) {
			t, ok := w.extractTile(node)
			if !ok {
				return
			}
			pageSet[t.URL] = true
			if seen[t.URL] {
				return
			}
			seen[t.URL] = true
			valid = append(valid, t)
		})

		if len(pageSet) > 0 && setsEqual(pageSet, prevSet) {
			repeat++
			if repeat >= 2 && c.CurrentPage >= 2 {
				return nil
			}
		} else {
			repeat = 0
		}
		prevSet = pageSet

		if len(valid) == 0 {
			c.EmptyPageRun++
			if c.EmptyPageRun >= w.TargetMatch {
				return nil
			}
		} else {
			c.EmptyPageRun = 0
			c.TotalSeen += len(valid)
			if err := visit(valid); err != nil {
				return err
			}
		}
		c.CurrentPage += w.Profile.Access.PageIncrementStep
	}
	w.Logger.Warn("page cap reached, ending walk", "pages", w.MaxPages)
	return nil
}

// extractTile turns one card node into a Tile. Invalid cards (bad URL, empty
// title) are dropped, not errors; one broken card never ends a walk.
func (w *Walker) extractTile(node *goquery.Selection) (Tile, bool) {
	ts := w.Profile.TileSelectors
	pctx := selector.Ctx{BaseURL: w.Profile.Access.BaseURL}

	raw, err := w.Engine.Extract(node, ts.DetailsURL, pctx)
	if err != nil || raw == nil {
		return Tile{}, false
	}
	s, _ := raw.(string)
	url, err := clean.URL(s)
	if err != nil || w.isBadURL(url) {
		return Tile{}, false
	}
	pctx.ProductURL = url

	rawTitle, err := w.Engine.Extract(node, ts.TileTitle, pctx)
	if err != nil || rawTitle == nil {
		return Tile{}, false
	}
	ts2, _ := rawTitle.(string)
	title := clean.Title(ts2)
	if title == "" {
		return Tile{}, false
	}

	t := Tile{URL: url, Title: title}
	if ts.TilePrice != nil {
		if v, err := w.Engine.Extract(node, ts.TilePrice, pctx); err == nil && v != nil {
			if p, ok := clean.Price(asText(v)); ok {
				t.Price = &p
			}
		}
	}
	t.Available = w.resolveAvailability(node, pctx)
	return t, true
}

// resolveAvailability applies the three-stage policy: the configured
// availability selector first, then the explicit unavailability selectors,
// then the profile default.
func (w *Walker) resolveAvailability(node *goquery.Selection, pctx selector.Ctx) bool {
	ts := w.Profile.TileSelectors

	if v, err := w.Engine.Extract(node, ts.TileAvailability, pctx); err == nil && v != nil {
		switch t := v.(type) {
		case bool:
			return t
		case string:
			if avail, ok := clean.Availability(t); ok {
				return avail
			}
		}
	}

	for _, sel := range []*profile.Selector{ts.TileUnavailabilityReserved, ts.TileUnavailabilitySold} {
		if sel == nil {
			continue
		}
		if v, err := w.Engine.Extract(node, sel, pctx); err == nil && signalHit(v) {
			return false
		}
	}

	// No signal at all. Only a hardwired static "true" may default to
	// available; anything else defaults to sold so a selector drift never
	// silently marks a whole site in stock.
	if w.Profile.StaticAvailabilityTrue() {
		return true
	}
	w.Logger.Warn("no availability signal, defaulting to unavailable", "url", pctx.ProductURL)
	return false
}

func (w *Walker) isBadURL(url string) bool {
	base := strings.TrimRight(w.Profile.Access.BaseURL, "/")
	if url == base || url == base+"/" {
		return true
	}
	if w.BadURLs[url] {
		return true
	}
	trimmed := strings.TrimRight(url, "/")
	for _, p := range badPaths {
		if strings.HasSuffix(trimmed, p) {
			return true
		}
	}
	return false
}

func signalHit(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		return true
	}
}

func asText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case *goquery.Selection:
		return clean.CollapseSpace(t.Text())
	default:
		return fmt.Sprintf("%v", t)
	}
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
