// Package profile defines the declarative per-site configuration that drives
// the extraction engine. One JSON file describes one listing source; several
// profiles may share a source_name (one listing page per category) and are
// processed as a single cohort.
package profile

import (
	"errors"
	"fmt"
	"strings"
)

// Bulk availability modes.
const (
	ModeTile     = "tile"      // absence from listing implies sold, gated by safety rails
	ModeLastSeen = "last_seen" // rows not touched during the walk go sold after a cutoff
)

// Well-known detail selector names.
const (
	DetailTitle        = "details_title"
	DetailDescription  = "details_description"
	DetailPrice        = "details_price"
	DetailAvailability = "details_availability"
	DetailImageURL     = "details_image_url"
	DetailExtractedID  = "details_extracted_id"
	DetailItemType     = "details_item_type"
	DetailGrade        = "details_grade"
	DetailConflict     = "details_conflict"
	DetailNation       = "details_nation"
	DetailCategories   = "details_categories"
)

// ErrInvalidProfile is returned when a profile fails structural validation.
var ErrInvalidProfile = errors.New("profile: invalid profile")

// Selector describes how to extract one value from a parsed document.
// Exactly one of Method, Function, or Static should be set:
//
//   - Method: a DOM query (find, find_all, select, select_one, has_attr)
//   - Function: dispatch to a registered named extractor
//   - Static: a constant value (bool or string)
type Selector struct {
	Method    string         `json:"method,omitempty"`
	Args      []string       `json:"args,omitempty"`
	Kwargs    map[string]any `json:"kwargs,omitempty"`
	Attribute string         `json:"attribute,omitempty"`

	Function string `json:"function,omitempty"`

	Static any `json:"value,omitempty"`

	PostProcess []Transform `json:"post_process,omitempty"`
}

// Transform is one named step of a selector's post-process pipeline.
type Transform struct {
	Name string `json:"name"`
	Arg  any    `json:"arg,omitempty"`
}

// Kind of a selector.
type Kind int

const (
	KindInvalid Kind = iota
	KindQuery
	KindFunction
	KindStatic
)

// Kind reports which selector variant this is.
func (s *Selector) Kind() Kind {
	switch {
	case s == nil:
		return KindInvalid
	case s.Method != "":
		return KindQuery
	case s.Function != "":
		return KindFunction
	case s.Static != nil:
		return KindStatic
	default:
		return KindInvalid
	}
}

// AccessConfig describes how to reach a site's paginated listing.
type AccessConfig struct {
	BaseURL           string            `json:"base_url"`
	ProductsPagePath  string            `json:"products_page_path"` // must contain {page}
	PageIncrementStep int               `json:"page_increment_step"`
	PageStart         int               `json:"page_start"` // typically 0 or 1
	Cookies           map[string]string `json:"cookies,omitempty"`
	UserAgent         string            `json:"user_agent,omitempty"`
}

// TileSelectors names every extraction run against a listing page.
type TileSelectors struct {
	Tiles                      *Selector `json:"tiles"`
	DetailsURL                 *Selector `json:"details_url"`
	TileTitle                  *Selector `json:"tile_title"`
	TilePrice                  *Selector `json:"tile_price"`
	TileAvailability           *Selector `json:"tile_availability"`
	TileUnavailabilitySold     *Selector `json:"tile_unavailability_sold,omitempty"`
	TileUnavailabilityReserved *Selector `json:"tile_unavailability_reserved,omitempty"`
}

// SiteProfile is the immutable configuration for one logical listing source.
type SiteProfile struct {
	SourceName           string               `json:"source_name"`
	JSONDesc             string               `json:"json_desc"`
	IsWorking            bool                 `json:"is_working"`
	IsSoldArchive        bool                 `json:"is_sold_archive"`
	BulkAvailabilityMode string               `json:"bulk_availability_mode"`
	Notes                string               `json:"notes,omitempty"`
	FailOnZeroImages     bool                 `json:"fail_on_zero_images,omitempty"`
	ImageWorkers         int                  `json:"image_workers,omitempty"` // per-product upload bound; 0 = default
	Access               AccessConfig         `json:"access_config"`
	TileSelectors        TileSelectors        `json:"product_tile_selectors"`
	DetailSelectors      map[string]*Selector `json:"product_details_selectors"`
}

// Validate checks structural requirements. Selector method and transform
// names are validated separately by the extraction engine.
func (p *SiteProfile) Validate() error {
	if p.SourceName == "" {
		return fmt.Errorf("%w: source_name is required", ErrInvalidProfile)
	}
	if p.Access.BaseURL == "" {
		return fmt.Errorf("%w: %s: access_config.base_url is required", ErrInvalidProfile, p.SourceName)
	}
	if !strings.HasPrefix(p.Access.BaseURL, "http://") && !strings.HasPrefix(p.Access.BaseURL, "https://") {
		return fmt.Errorf("%w: %s: base_url must be absolute http(s)", ErrInvalidProfile, p.SourceName)
	}
	if !strings.Contains(p.Access.ProductsPagePath, "{page}") {
		return fmt.Errorf("%w: %s: products_page_path must contain {page}", ErrInvalidProfile, p.SourceName)
	}
	if p.Access.PageIncrementStep == 0 {
		return fmt.Errorf("%w: %s: page_increment_step must be non-zero", ErrInvalidProfile, p.SourceName)
	}
	switch p.BulkAvailabilityMode {
	case ModeTile, ModeLastSeen:
	default:
		return fmt.Errorf("%w: %s: bulk_availability_mode must be %q or %q",
			ErrInvalidProfile, p.SourceName, ModeTile, ModeLastSeen)
	}
	ts := p.TileSelectors
	for _, req := range []struct {
		name string
		sel  *Selector
	}{
		{"tiles", ts.Tiles},
		{"details_url", ts.DetailsURL},
		{"tile_title", ts.TileTitle},
		{"tile_availability", ts.TileAvailability},
	} {
		if req.sel.Kind() == KindInvalid {
			return fmt.Errorf("%w: %s: product_tile_selectors.%s is required", ErrInvalidProfile, p.SourceName, req.name)
		}
	}
	return nil
}

// PageURL builds the listing URL for one page number.
func (p *SiteProfile) PageURL(page int) string {
	path := strings.ReplaceAll(p.Access.ProductsPagePath, "{page}", fmt.Sprintf("%d", page))
	return strings.TrimRight(p.Access.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// StaticAvailabilityTrue reports whether the profile hardwires tile
// availability to the static string "true". Only then may an absent
// availability signal default to available.
func (p *SiteProfile) StaticAvailabilityTrue() bool {
	sel := p.TileSelectors.TileAvailability
	if sel.Kind() != KindStatic {
		return false
	}
	switch v := sel.Static.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// GroupBySource groups profiles into cohorts by source_name, preserving the
// order in which sources first appear.
func GroupBySource(profiles []*SiteProfile) [][]*SiteProfile {
	index := map[string]int{}
	var groups [][]*SiteProfile
	for _, p := range profiles {
		i, ok := index[p.SourceName]
		if !ok {
			i = len(groups)
			index[p.SourceName] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], p)
	}
	return groups
}
