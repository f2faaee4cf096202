package selector

import (
	"errors"
	"testing"

	"github.com/peposaru/milivault/profile"
)

func extract(t *testing.T, sel *profile.Selector, html string, pctx Ctx) any {
	t.Helper()
	e := &Engine{}
	v, err := e.Extract(doc(t, html), sel, pctx)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return v
}

func TestSmartPrepend(t *testing.T) {
	// WHAT: smart_prepend only prefixes values not already absolute.
	// WHY: Sites mix relative and absolute hrefs on the same page.
	sel := &profile.Selector{
		Method:    MethodFind,
		Args:      []string{"a"},
		Attribute: "href",
		PostProcess: []profile.Transform{
			{Name: "smart_prepend", Arg: "https://x.example"},
		},
	}
	if v := extract(t, sel, `<a href="/p/1">x</a>`, Ctx{}); v != "https://x.example/p/1" {
		t.Errorf("relative: got %v", v)
	}
	if v := extract(t, sel, `<a href="https://other.example/p/2">x</a>`, Ctx{}); v != "https://other.example/p/2" {
		t.Errorf("absolute: got %v", v)
	}
}

func TestPrependAppendStrip(t *testing.T) {
	// WHAT: prepend/append wrap trimmed truthy values; strip trims.
	// WHY: Basic string plumbing used by most profiles.
	sel := &profile.Selector{
		Method: MethodFind,
		Args:   []string{"span"},
		PostProcess: []profile.Transform{
			{Name: "strip"},
			{Name: "prepend", Arg: "["},
			{Name: "append", Arg: "]"},
		},
	}
	if v := extract(t, sel, `<span>  id77  </span>`, Ctx{}); v != "[id77]" {
		t.Errorf("got %v", v)
	}
}

func TestRegexCaptureGroup(t *testing.T) {
	// WHAT: regex returns the first capture group, or nil without a match.
	// WHY: IDs are often embedded in longer strings.
	sel := &profile.Selector{
		Method: MethodFind,
		Args:   []string{"span"},
		PostProcess: []profile.Transform{
			{Name: "regex", Arg: map[string]any{"pattern": `ref\s+(\w+)`}},
		},
	}
	if v := extract(t, sel, `<span>ref ET64 original</span>`, Ctx{}); v != "ET64" {
		t.Errorf("got %v", v)
	}
	if v := extract(t, sel, `<span>no reference</span>`, Ctx{}); v != nil {
		t.Errorf("no match: got %v, want nil", v)
	}
}

func TestReplaceAllSequential(t *testing.T) {
	// WHAT: replace_all applies pairs in declared order.
	// WHY: Order matters when replacements overlap.
	sel := &profile.Selector{
		Method: MethodFind,
		Args:   []string{"span"},
		PostProcess: []profile.Transform{
			{Name: "replace_all", Arg: []any{
				map[string]any{"old": "Price:", "new": ""},
				map[string]any{"old": "  ", "new": " "},
			}},
			{Name: "strip"},
		},
	}
	if v := extract(t, sel, `<span>Price: $40</span>`, Ctx{}); v != "$40" {
		t.Errorf("got %v", v)
	}
}

func TestSplitTake(t *testing.T) {
	// WHAT: split selects the first or last segment.
	// WHY: Breadcrumb-style fields need the tail segment.
	sel := &profile.Selector{
		Method: MethodFind,
		Args:   []string{"span"},
		PostProcess: []profile.Transform{
			{Name: "split", Arg: map[string]any{"delimiter": "|", "take": "last"}},
		},
	}
	if v := extract(t, sel, `<span>Home | Shop | Helmets</span>`, Ctx{}); v != "Helmets" {
		t.Errorf("got %v", v)
	}
}

func TestFindTextContainsBranches(t *testing.T) {
	// WHAT: Substring test returns the configured branch value.
	// WHY: Availability is frequently inferred from badge text.
	sel := &profile.Selector{
		Method: MethodFind,
		Args:   []string{"span"},
		PostProcess: []profile.Transform{
			{Name: "find_text_contains", Arg: map[string]any{
				"value":            "SOLD",
				"case_insensitive": true,
				"if_true":          false,
				"if_false":         true,
			}},
		},
	}
	if v := extract(t, sel, `<span>This item is sold</span>`, Ctx{}); v != false {
		t.Errorf("sold: got %v, want false", v)
	}
	if v := extract(t, sel, `<span>In stock</span>`, Ctx{}); v != true {
		t.Errorf("in stock: got %v, want true", v)
	}
}

func TestSubmethodExists(t *testing.T) {
	// WHAT: A sub-query on the matched element compares existence to expect.
	// WHY: Sold ribbons are child nodes of the tile, not text.
	html := `<li class="product"><span class="sold-ribbon"></span><a href="/p">x</a></li>`
	sel := &profile.Selector{
		Method: MethodFind,
		Args:   []string{"li"},
		PostProcess: []profile.Transform{
			{Name: "submethod_exists", Arg: map[string]any{
				"method": "find",
				"args":   []any{"span"},
				"kwargs": map[string]any{"class": "sold-ribbon"},
				"expect": true,
			}},
		},
	}
	if v := extract(t, sel, html, Ctx{}); v != true {
		t.Errorf("present: got %v, want true", v)
	}
	if v := extract(t, sel, `<li class="product"><a href="/p">x</a></li>`, Ctx{}); v != false {
		t.Errorf("absent: got %v, want false", v)
	}
}

func TestValidateStartswith(t *testing.T) {
	// WHAT: Values failing the prefix check become nil.
	// WHY: Guards against picking up navigation links as product URLs.
	sel := &profile.Selector{
		Method:    MethodFind,
		Args:      []string{"a"},
		Attribute: "href",
		PostProcess: []profile.Transform{
			{Name: "validate_startswith", Arg: "https://x.example/shop/"},
		},
	}
	if v := extract(t, sel, `<a href="https://x.example/shop/p1">x</a>`, Ctx{}); v != "https://x.example/shop/p1" {
		t.Errorf("valid: got %v", v)
	}
	if v := extract(t, sel, `<a href="https://x.example/cart">x</a>`, Ctx{}); v != nil {
		t.Errorf("invalid: got %v, want nil", v)
	}
}

func TestSetAndFromURLAcceptNil(t *testing.T) {
	// WHAT: set and from_url run even after the value went nil.
	// WHY: They derive values independent of the query result.
	sel := &profile.Selector{
		Method: MethodFind,
		Args:   []string{"h1"}, // no match
		PostProcess: []profile.Transform{
			{Name: "set", Arg: "fallback"},
		},
	}
	if v := extract(t, sel, `<p>no heading</p>`, Ctx{}); v != "fallback" {
		t.Errorf("set: got %v", v)
	}

	sel = &profile.Selector{
		Method: MethodFind,
		Args:   []string{"h1"},
		PostProcess: []profile.Transform{
			{Name: "from_url"},
			{Name: "regex", Arg: map[string]any{"pattern": `/p/(\d+)`}},
		},
	}
	if v := extract(t, sel, `<p>x</p>`, Ctx{ProductURL: "https://x.example/p/99"}); v != "99" {
		t.Errorf("from_url: got %v", v)
	}
}

func TestNilShortCircuits(t *testing.T) {
	// WHAT: nil skips the remaining pipeline for ordinary transforms.
	// WHY: Transform chains must not fabricate values from nothing.
	sel := &profile.Selector{
		Method: MethodFind,
		Args:   []string{"h1"},
		PostProcess: []profile.Transform{
			{Name: "prepend", Arg: "x"},
			{Name: "append", Arg: "y"},
		},
	}
	if v := extract(t, sel, `<p>x</p>`, Ctx{}); v != nil {
		t.Errorf("got %v, want nil", v)
	}
}

func TestUnknownTransform(t *testing.T) {
	// WHAT: Unknown transform names are configuration errors.
	// WHY: The registry is closed by design.
	e := &Engine{}
	_, err := e.Extract(doc(t, `<span>x</span>`), &profile.Selector{
		Method:      MethodFind,
		Args:        []string{"span"},
		PostProcess: []profile.Transform{{Name: "eval"}},
	}, Ctx{})
	if !errors.Is(err, ErrUnknownTransform) {
		t.Errorf("err: got %v, want ErrUnknownTransform", err)
	}
}

func TestValidateProfile(t *testing.T) {
	// WHAT: Profile-wide validation catches bad methods, transforms, and extractors.
	// WHY: Configuration failures are per-profile fatal at load time.
	p := &profile.SiteProfile{
		SourceName: "x",
		TileSelectors: profile.TileSelectors{
			Tiles:            &profile.Selector{Method: MethodFindAll, Args: []string{"li"}},
			DetailsURL:       &profile.Selector{Method: MethodFind, Args: []string{"a"}, Attribute: "href"},
			TileTitle:        &profile.Selector{Method: MethodFind, Args: []string{"h2"}},
			TileAvailability: &profile.Selector{Static: "true"},
		},
		DetailSelectors: map[string]*profile.Selector{
			profile.DetailImageURL: {Function: "woo_commerce"},
		},
	}
	known := func(name string) bool { return name == "woo_commerce" }
	if err := ValidateProfile(p, known); err != nil {
		t.Fatalf("valid profile rejected: %v", err)
	}

	p.DetailSelectors["details_extra"] = &profile.Selector{Method: "xpath"}
	if err := ValidateProfile(p, known); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("bad method: got %v", err)
	}
	delete(p.DetailSelectors, "details_extra")

	p.DetailSelectors[profile.DetailImageURL] = &profile.Selector{Function: "mystery"}
	if err := ValidateProfile(p, known); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("bad function: got %v", err)
	}
}
