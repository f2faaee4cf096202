// Package detail fetches product pages for tiles the differ flagged and
// reconciles the extracted fields into the catalog. The detail page is the
// expensive path; everything here assumes the tile pipeline already decided
// the fetch is worth it.
package detail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/peposaru/milivault/catalog"
	"github.com/peposaru/milivault/clean"
	"github.com/peposaru/milivault/fetch"
	"github.com/peposaru/milivault/gallery"
	"github.com/peposaru/milivault/profile"
	"github.com/peposaru/milivault/selector"
	"github.com/peposaru/milivault/tiles"
)

// ErrSkipped marks a product page that was deliberately not processed
// (empty title, redirect away from the listing URL).
var ErrSkipped = errors.New("detail: item skipped")

// DetailFetcher retrieves one product page.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, url string, opts fetch.Options) (*fetch.Result, error)
}

// ImageAcquirer mirrors a product's gallery into the object store. The
// implementation decides whether the upload can be skipped.
type ImageAcquirer interface {
	Acquire(ctx context.Context, p *catalog.Product, urls []string) error
}

// Processor handles one site's needs-detail queue. Classifier, Embedder,
// and Images are optional; the core pipeline runs with all three nil.
type Processor struct {
	Profile    *profile.SiteProfile
	Fetcher    DetailFetcher
	Store      *catalog.Store
	Images     ImageAcquirer
	Classifier Classifier
	Embedder   Embedder
	Limiter    *fetch.RateLimiter
	Logger     *slog.Logger

	engine   selector.Engine
	disabled mlToggles
}

// New creates a Processor. The rate limiter defaults to the standard
// detail-fetch cadence when nil.
func New(p *profile.SiteProfile, f DetailFetcher, store *catalog.Store, logger *slog.Logger) *Processor {
	return &Processor{
		Profile:  p,
		Fetcher:  f,
		Store:    store,
		Limiter:  fetch.NewRateLimiter(0, 0),
		Logger:   logger.With("site", p.SourceName),
		disabled: togglesFromEnv(),
	}
}

// Process fetches one product page and inserts or updates its catalog row.
// Per-item failures return an error for the caller to count; they never
// abort the pass.
func (pr *Processor) Process(ctx context.Context, t tiles.Tile, c *tiles.Counters) error {
	if pr.Limiter != nil {
		if err := pr.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	res, err := pr.Fetcher.FetchDetail(ctx, t.URL, fetch.Options{
		Cookies:   pr.Profile.Access.Cookies,
		UserAgent: pr.Profile.Access.UserAgent,
	})
	if err != nil {
		return fmt.Errorf("detail: fetch %s: %w", t.URL, err)
	}

	// A redirect to a different canonical page means the original URL no
	// longer sells this item. Mark it unavailable; never create a row for
	// the redirect target under the original identity.
	if res.FinalURL != "" && !sameURL(res.FinalURL, t.URL) {
		pr.Logger.Warn("detail page redirected, marking unavailable",
			"url", t.URL, "final_url", res.FinalURL)
		if _, err := pr.Store.SetAvailability(ctx, pr.Profile.SourceName, t.URL, false); err != nil {
			return err
		}
		return fmt.Errorf("%w: redirect %s -> %s", ErrSkipped, t.URL, res.FinalURL)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return fmt.Errorf("detail: parse %s: %w", t.URL, err)
	}

	f, err := pr.extract(doc, t)
	if err != nil {
		return err
	}

	existing, err := pr.Store.GetProduct(ctx, pr.Profile.SourceName, t.URL)
	if err != nil {
		return err
	}

	var prod *catalog.Product
	if existing == nil {
		prod, err = pr.insert(ctx, t.URL, f)
		if err != nil {
			return err
		}
		c.NewCount++
	} else {
		// update mutates existing in place; the flip has to be read off the
		// pre-update state.
		wasAvailable := existing.Available
		changed, err := pr.update(ctx, existing, f)
		if err != nil {
			return err
		}
		if changed {
			c.AvailUpdates += boolInt(wasAvailable != existing.Available)
		} else {
			c.UnchangedCount++
		}
		prod = existing
	}

	if err := pr.enrich(ctx, prod, f); err != nil {
		pr.Logger.Warn("enrichment failed", "url", t.URL, "err", err)
	}

	if pr.Images != nil && len(f.ImageURLs) > 0 {
		if err := pr.Images.Acquire(ctx, prod, f.ImageURLs); err != nil {
			pr.Logger.Warn("image acquisition failed", "url", t.URL, "err", err)
		}
	} else if len(f.ImageURLs) == 0 && pr.Profile.FailOnZeroImages && prod != nil {
		pr.Logger.Warn("zero images extracted, flagging", "url", t.URL)
		if err := pr.Store.MarkRequiresAttention(ctx, prod.ID); err != nil {
			return err
		}
	}
	return nil
}

// fields is the cleaned output of one detail-page extraction.
type fields struct {
	Title       string
	Description string
	Price       *float64
	Available   bool
	HasAvail    bool // availability selector configured
	ExtractedID string
	ItemType    string
	Grade       string
	Conflict    string
	Nation      string
	Categories  string
	ImageURLs   []string
}

func (pr *Processor) extract(doc *goquery.Document, t tiles.Tile) (fields, error) {
	sels := pr.Profile.DetailSelectors
	pctx := selector.Ctx{ProductURL: t.URL, BaseURL: pr.Profile.Access.BaseURL}
	root := doc.Selection

	var f fields
	title, err := clean.TitleStrict(pr.text(root, sels[profile.DetailTitle], pctx))
	if err != nil {
		// The tile title already passed validation; fall back to it rather
		// than dropping an item over a flaky detail template.
		if t.Title == "" {
			return f, fmt.Errorf("%w: %s: %v", ErrSkipped, t.URL, err)
		}
		title = t.Title
	}
	f.Title = title
	f.Description = clean.Description(pr.text(root, sels[profile.DetailDescription], pctx))
	if p, ok := clean.Price(pr.text(root, sels[profile.DetailPrice], pctx)); ok {
		f.Price = &p
	} else {
		f.Price = t.Price
	}
	f.Available, f.HasAvail = pr.availability(root, sels[profile.DetailAvailability], pctx, t)
	f.ExtractedID = clean.ExtractedID(pr.text(root, sels[profile.DetailExtractedID], pctx))
	f.ItemType = clean.ItemType(pr.text(root, sels[profile.DetailItemType], pctx))
	f.Grade = clean.Grade(pr.text(root, sels[profile.DetailGrade], pctx))
	f.Conflict = clean.Conflict(pr.text(root, sels[profile.DetailConflict], pctx))
	f.Nation = clean.Nation(pr.text(root, sels[profile.DetailNation], pctx))
	f.Categories = clean.Categories(pr.text(root, sels[profile.DetailCategories], pctx))
	f.ImageURLs = pr.images(doc, sels[profile.DetailImageURL], pctx)
	return f, nil
}

// text evaluates an optional selector to a cleaned string; absent selectors
// and misses both come back empty.
func (pr *Processor) text(root *goquery.Selection, sel *profile.Selector, pctx selector.Ctx) string {
	if sel == nil {
		return ""
	}
	v, err := pr.engine.Extract(root, sel, pctx)
	if err != nil || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case *goquery.Selection:
		return clean.CollapseSpace(t.Text())
	default:
		return ""
	}
}

func (pr *Processor) availability(root *goquery.Selection, sel *profile.Selector, pctx selector.Ctx, t tiles.Tile) (avail, configured bool) {
	if sel == nil {
		return t.Available, false
	}
	v, err := pr.engine.Extract(root, sel, pctx)
	if err == nil && v != nil {
		switch x := v.(type) {
		case bool:
			return x, true
		case string:
			if a, ok := clean.Availability(x); ok {
				return a, true
			}
			return clean.AvailabilityFromText(x), true
		}
	}
	pr.Logger.Warn("no detail availability signal, keeping tile verdict", "url", pctx.ProductURL)
	return t.Available, false
}

// images resolves the gallery: a named extractor when the selector is a
// function, otherwise a plain DOM query yielding whitespace-joined URLs.
func (pr *Processor) images(doc *goquery.Document, sel *profile.Selector, pctx selector.Ctx) []string {
	if sel == nil {
		return nil
	}
	if sel.Kind() == profile.KindFunction {
		urls, err := gallery.Extract(sel.Function, doc, pctx.BaseURL)
		if err != nil {
			pr.Logger.Warn("gallery extractor failed", "extractor", sel.Function, "err", err)
			return nil
		}
		return urls
	}
	raw := pr.text(doc.Selection, sel, pctx)
	if raw == "" {
		return nil
	}
	urls, err := clean.URLList(strings.Fields(raw))
	if err != nil {
		pr.Logger.Warn("image url list rejected", "url", pctx.ProductURL, "err", err)
		return nil
	}
	return urls
}

func (pr *Processor) insert(ctx context.Context, url string, f fields) (*catalog.Product, error) {
	p := &catalog.Product{
		Site:              pr.Profile.SourceName,
		URL:               url,
		Title:             f.Title,
		Description:       f.Description,
		Price:             f.Price,
		Available:         f.Available,
		ExtractedID:       f.ExtractedID,
		ItemType:          f.ItemType,
		Grade:             f.Grade,
		Conflict:          f.Conflict,
		Nation:            f.Nation,
		Categories:        f.Categories,
		OriginalImageURLs: f.ImageURLs,
	}
	if f.Price != nil {
		p.PriceHistory = []float64{*f.Price}
	}
	if _, err := pr.Store.InsertProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// update writes only the columns whose values actually differ. Empty
// optional fields never clobber existing data.
func (pr *Processor) update(ctx context.Context, p *catalog.Product, f fields) (bool, error) {
	diff := map[string]any{}
	if f.Title != p.Title {
		diff["title"] = f.Title
	}
	if f.Description != "" && f.Description != p.Description {
		diff["description"] = f.Description
	}
	if f.Price != nil && (p.Price == nil || *p.Price != *f.Price) {
		diff["price"] = *f.Price
		history := append(append([]float64{}, p.PriceHistory...), *f.Price)
		diff["price_history"] = encodeFloatsJSON(history)
		p.PriceHistory = history
		p.Price = f.Price
	}
	if f.HasAvail && f.Available != p.Available {
		diff["available"] = f.Available
	}
	for _, s := range []struct {
		col      string
		val      string
		existing *string
	}{
		{"extracted_id", f.ExtractedID, &p.ExtractedID},
		{"item_type", f.ItemType, &p.ItemType},
		{"grade", f.Grade, &p.Grade},
		{"conflict", f.Conflict, &p.Conflict},
		{"nation", f.Nation, &p.Nation},
		{"categories", f.Categories, &p.Categories},
	} {
		if s.val != "" && s.val != *s.existing {
			diff[s.col] = s.val
			*s.existing = s.val
		}
	}
	if len(diff) == 0 {
		return false, nil
	}
	if err := pr.Store.UpdateProductFields(ctx, p.ID, diff); err != nil {
		return false, err
	}
	if t, ok := diff["title"].(string); ok {
		p.Title = t
	}
	if d, ok := diff["description"].(string); ok {
		p.Description = d
	}
	if a, ok := diff["available"].(bool); ok {
		p.Available = a
	}
	return true, nil
}

func sameURL(a, b string) bool {
	norm := func(s string) string {
		s = strings.TrimPrefix(s, "http://")
		s = strings.TrimPrefix(s, "https://")
		return strings.TrimSuffix(s, "/")
	}
	return norm(a) == norm(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
