package detail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/peposaru/milivault/catalog"
	"github.com/peposaru/milivault/dbopen"
	"github.com/peposaru/milivault/fetch"
	"github.com/peposaru/milivault/profile"
	"github.com/peposaru/milivault/tiles"
	_ "modernc.org/sqlite"
)

type fakeDetailFetcher struct {
	body     string
	finalURL string
	err      error
}

func (f *fakeDetailFetcher) FetchDetail(_ context.Context, url string, _ fetch.Options) (*fetch.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	fu := f.finalURL
	if fu == "" {
		fu = url
	}
	return &fetch.Result{Body: []byte(f.body), StatusCode: 200, FinalURL: fu}, nil
}

type recordingAcquirer struct {
	productID int64
	urls      []string
}

func (r *recordingAcquirer) Acquire(_ context.Context, p *catalog.Product, urls []string) error {
	r.productID = p.ID
	r.urls = urls
	return nil
}

type fakeClassifier struct{ out Classification }

func (f *fakeClassifier) Classify(context.Context, string, string) (Classification, error) {
	return f.out, nil
}

func detailProfile() *profile.SiteProfile {
	return &profile.SiteProfile{
		SourceName:           "test_militaria",
		BulkAvailabilityMode: profile.ModeTile,
		Access: profile.AccessConfig{
			BaseURL:           "https://shop.example",
			ProductsPagePath:  "/page/{page}",
			PageIncrementStep: 1,
		},
		DetailSelectors: map[string]*profile.Selector{
			profile.DetailTitle:        {Method: "find", Args: []string{"h1"}},
			profile.DetailDescription:  {Method: "find", Args: []string{"div"}, Kwargs: map[string]any{"class": "description"}},
			profile.DetailPrice:        {Method: "find", Args: []string{"span"}, Kwargs: map[string]any{"class": "price"}},
			profile.DetailAvailability: {Method: "find", Args: []string{"span"}, Kwargs: map[string]any{"class": "stock"}},
			profile.DetailExtractedID:  {Method: "find", Args: []string{"div"}, Kwargs: map[string]any{"class": "sku"}},
		},
	}
}

const detailPage = `<html><body>
<h1>M35 Helmet</h1>
<div class="description">Description: Double decal shell.</div>
<span class="price">$1,250.00</span>
<span class="stock">In stock</span>
<div class="sku">item (AB123)</div>
</body></html>`

func newTestProcessor(t *testing.T, p *profile.SiteProfile, f DetailFetcher) (*Processor, *catalog.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(catalog.Schema))
	store := catalog.NewStore(db)
	pr := New(p, f, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	pr.Limiter = nil // no pacing in tests
	return pr, store
}

// WHAT: A new URL produces an inserted row with every extracted field
// cleaned and the price history seeded with the first price.
// WHY: The insert path is where a listing enters the catalog; a field lost
// here is lost for the row's whole life.
func TestProcessInsertsNewProduct(t *testing.T) {
	pr, store := newTestProcessor(t, detailProfile(), &fakeDetailFetcher{body: detailPage})
	ctx := context.Background()

	var c tiles.Counters
	tile := tiles.Tile{URL: "https://shop.example/p/helmet", Title: "M35 Helmet", Available: true}
	if err := pr.Process(ctx, tile, &c); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := store.GetProduct(ctx, "test_militaria", tile.URL)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("row not inserted")
	}
	if got.Title != "M35 Helmet" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Description != "Double decal shell." {
		t.Errorf("description = %q", got.Description)
	}
	if got.Price == nil || *got.Price != 1250 {
		t.Errorf("price = %v", got.Price)
	}
	if !got.Available {
		t.Error("available = false, want true")
	}
	if got.ExtractedID != "AB123" {
		t.Errorf("extracted_id = %q", got.ExtractedID)
	}
	if len(got.PriceHistory) != 1 || got.PriceHistory[0] != 1250 {
		t.Errorf("price history = %v", got.PriceHistory)
	}
	if c.NewCount != 1 {
		t.Errorf("NewCount = %d", c.NewCount)
	}
}

// WHAT: Re-processing an existing row updates only the fields that differ
// and appends the new price to the history.
// WHY: Field-diff updates keep date_modified honest and preserve data the
// page no longer exposes.
func TestProcessFieldDiffUpdate(t *testing.T) {
	pr, store := newTestProcessor(t, detailProfile(), &fakeDetailFetcher{body: detailPage})
	ctx := context.Background()

	old := 1400.0
	_, err := store.InsertProduct(ctx, &catalog.Product{
		Site:         "test_militaria",
		URL:          "https://shop.example/p/helmet",
		Title:        "M35 Helmet",
		Description:  "Old description kept nowhere.",
		Price:        &old,
		Available:    true,
		Nation:       "GERMANY",
		PriceHistory: []float64{1400},
	})
	if err != nil {
		t.Fatal(err)
	}

	var c tiles.Counters
	tile := tiles.Tile{URL: "https://shop.example/p/helmet", Title: "M35 Helmet", Available: true}
	if err := pr.Process(ctx, tile, &c); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := store.GetProduct(ctx, "test_militaria", tile.URL)
	if err != nil {
		t.Fatal(err)
	}
	if got.Price == nil || *got.Price != 1250 {
		t.Errorf("price = %v, want 1250", got.Price)
	}
	if len(got.PriceHistory) != 2 || got.PriceHistory[1] != 1250 {
		t.Errorf("price history = %v, want [1400 1250]", got.PriceHistory)
	}
	if got.Nation != "GERMANY" {
		t.Errorf("nation clobbered: %q", got.Nation)
	}
	if got.DateModified == nil {
		t.Error("date_modified not bumped")
	}
}

// WHAT: A page identical to the stored row writes nothing and counts as
// unchanged.
// WHY: No-op passes are the common case; they must not churn date_modified.
func TestProcessUnchangedWritesNothing(t *testing.T) {
	pr, store := newTestProcessor(t, detailProfile(), &fakeDetailFetcher{body: detailPage})
	ctx := context.Background()

	price := 1250.0
	_, err := store.InsertProduct(ctx, &catalog.Product{
		Site:        "test_militaria",
		URL:         "https://shop.example/p/helmet",
		Title:       "M35 Helmet",
		Description: "Double decal shell.",
		Price:       &price,
		Available:   true,
		ExtractedID: "AB123",
	})
	if err != nil {
		t.Fatal(err)
	}

	var c tiles.Counters
	tile := tiles.Tile{URL: "https://shop.example/p/helmet", Title: "M35 Helmet", Available: true}
	if err := pr.Process(ctx, tile, &c); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if c.UnchangedCount != 1 {
		t.Errorf("UnchangedCount = %d, want 1", c.UnchangedCount)
	}
	got, _ := store.GetProduct(ctx, "test_militaria", tile.URL)
	if got.DateModified != nil {
		t.Error("date_modified bumped on a no-op")
	}
}

// WHAT: A detail page that redirects elsewhere marks the original URL
// unavailable and never creates a row for the redirect target.
// WHY: Sites redirect dead listings to their category page; treating the
// target page as the product would corrupt the row's identity.
func TestProcessRedirectMarksUnavailable(t *testing.T) {
	pr, store := newTestProcessor(t, detailProfile(), &fakeDetailFetcher{
		body:     detailPage,
		finalURL: "https://shop.example/category/helmets",
	})
	ctx := context.Background()

	_, err := store.InsertProduct(ctx, &catalog.Product{
		Site:      "test_militaria",
		URL:       "https://shop.example/p/helmet",
		Title:     "M35 Helmet",
		Available: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	var c tiles.Counters
	tile := tiles.Tile{URL: "https://shop.example/p/helmet", Title: "M35 Helmet", Available: true}
	err = pr.Process(ctx, tile, &c)
	if !errors.Is(err, ErrSkipped) {
		t.Fatalf("err = %v, want ErrSkipped", err)
	}

	got, _ := store.GetProduct(ctx, "test_militaria", tile.URL)
	if got.Available {
		t.Error("redirected row still available")
	}
	target, _ := store.GetProduct(ctx, "test_militaria", "https://shop.example/category/helmets")
	if target != nil {
		t.Error("row created for redirect target")
	}
}

// WHAT: A detail page flipping a stored row's availability is counted as an
// availability update.
// WHY: scrape_log.availability_update_count is how an operator sees detail
// pages disagreeing with tiles; a flip the counter misses is invisible.
func TestProcessDetailFlipCountsAvailUpdate(t *testing.T) {
	body := strings.Replace(detailPage, "In stock", "Sold", 1)
	pr, store := newTestProcessor(t, detailProfile(), &fakeDetailFetcher{body: body})
	ctx := context.Background()

	price := 1250.0
	_, err := store.InsertProduct(ctx, &catalog.Product{
		Site:        "test_militaria",
		URL:         "https://shop.example/p/helmet",
		Title:       "M35 Helmet",
		Description: "Double decal shell.",
		Price:       &price,
		Available:   true,
		ExtractedID: "AB123",
	})
	if err != nil {
		t.Fatal(err)
	}

	var c tiles.Counters
	tile := tiles.Tile{URL: "https://shop.example/p/helmet", Title: "M35 Helmet", Available: true}
	if err := pr.Process(ctx, tile, &c); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, _ := store.GetProduct(ctx, "test_militaria", tile.URL)
	if got.Available {
		t.Error("row still available")
	}
	if c.AvailUpdates != 1 {
		t.Errorf("AvailUpdates = %d, want 1", c.AvailUpdates)
	}
}

// WHAT: Without an availability selector the tile's verdict carries through.
// WHY: Some profiles only read availability from the listing page; the
// detail stage must not invent a different answer.
func TestProcessAvailabilityFallsBackToTile(t *testing.T) {
	p := detailProfile()
	delete(p.DetailSelectors, profile.DetailAvailability)
	pr, store := newTestProcessor(t, p, &fakeDetailFetcher{body: detailPage})
	ctx := context.Background()

	var c tiles.Counters
	tile := tiles.Tile{URL: "https://shop.example/p/helmet", Title: "M35 Helmet", Available: false}
	if err := pr.Process(ctx, tile, &c); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, _ := store.GetProduct(ctx, "test_militaria", tile.URL)
	if got.Available {
		t.Error("available = true, want tile verdict false")
	}
}

// WHAT: Extracted gallery URLs are handed to the image acquirer for the
// inserted product.
// WHY: Image acquisition keys off the row id; the handoff happens after the
// row exists.
func TestProcessHandsImagesToAcquirer(t *testing.T) {
	p := detailProfile()
	p.DetailSelectors[profile.DetailImageURL] = &profile.Selector{
		Method: "find_all", Args: []string{"a"},
		Kwargs:    map[string]any{"class": "gimg"},
		Attribute: "href",
	}
	body := detailPage + `<a class="gimg" href="https://shop.example/i/1.jpg"></a>` +
		`<a class="gimg" href="https://shop.example/i/2.jpg"></a>`
	pr, store := newTestProcessor(t, p, &fakeDetailFetcher{body: body})
	rec := &recordingAcquirer{}
	pr.Images = rec
	ctx := context.Background()

	var c tiles.Counters
	tile := tiles.Tile{URL: "https://shop.example/p/helmet", Title: "M35 Helmet", Available: true}
	if err := pr.Process(ctx, tile, &c); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, _ := store.GetProduct(ctx, "test_militaria", tile.URL)
	if rec.productID != got.ID {
		t.Errorf("acquirer got id %d, want %d", rec.productID, got.ID)
	}
	if len(rec.urls) != 2 || rec.urls[0] != "https://shop.example/i/1.jpg" {
		t.Errorf("acquirer urls = %v", rec.urls)
	}
}

// WHAT: With fail_on_zero_images set, a page yielding no gallery flags the
// row for attention instead of killing the run.
// WHY: Zero images is a selector-drift symptom on sites that always have
// photos; the historical behavior of exiting the process is replaced by a
// reviewable flag.
func TestProcessZeroImagesFlagsAttention(t *testing.T) {
	p := detailProfile()
	p.FailOnZeroImages = true
	p.DetailSelectors[profile.DetailImageURL] = &profile.Selector{
		Method: "find_all", Args: []string{"a"},
		Kwargs:    map[string]any{"class": "gimg"},
		Attribute: "href",
	}
	pr, store := newTestProcessor(t, p, &fakeDetailFetcher{body: detailPage})
	ctx := context.Background()

	var c tiles.Counters
	tile := tiles.Tile{URL: "https://shop.example/p/helmet", Title: "M35 Helmet", Available: true}
	if err := pr.Process(ctx, tile, &c); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, _ := store.GetProduct(ctx, "test_militaria", tile.URL)
	if !got.RequiresAttention {
		t.Error("zero-image row not flagged")
	}
}

// WHAT: Classifier outputs land in the *_ai_generated columns, minus any
// disabled by environment; extracted columns stay untouched.
// WHY: Model output must never overwrite site-extracted truth, and the env
// kill switches exist for rolling back a bad model per label.
func TestEnrichClassifierWithToggles(t *testing.T) {
	t.Setenv("ML_DISABLE_NATION", "1")
	pr, store := newTestProcessor(t, detailProfile(), &fakeDetailFetcher{body: detailPage})
	pr.disabled = togglesFromEnv()
	pr.Classifier = &fakeClassifier{out: Classification{
		ItemType: "HELMET", Conflict: "WW2", Nation: "GERMANY", Supergroup: "HEADGEAR",
	}}
	ctx := context.Background()

	var c tiles.Counters
	tile := tiles.Tile{URL: "https://shop.example/p/helmet", Title: "M35 Helmet", Available: true}
	if err := pr.Process(ctx, tile, &c); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, _ := store.GetProduct(ctx, "test_militaria", tile.URL)
	if got.ItemTypeAI != "HELMET" || got.SupergroupAI != "HEADGEAR" {
		t.Errorf("ai fields = %q %q", got.ItemTypeAI, got.SupergroupAI)
	}
	if got.NationAI != "" {
		t.Errorf("disabled nation label written: %q", got.NationAI)
	}
	if got.Nation != "" {
		t.Errorf("extracted nation column touched: %q", got.Nation)
	}
}
