package selector

import (
	"fmt"

	"github.com/peposaru/milivault/profile"
)

var knownMethods = map[string]bool{
	MethodFind:      true,
	MethodFindAll:   true,
	MethodSelect:    true,
	MethodSelectOne: true,
	MethodHasAttr:   true,
}

// ValidateProfile checks every selector in p against the engine's closed
// method set and transform registry. knownFunction reports whether a named
// extractor is registered (nil allows any name). A failure here is fatal for
// the profile but must not stop the rest of the run.
func ValidateProfile(p *profile.SiteProfile, knownFunction func(string) bool) error {
	ts := p.TileSelectors
	named := map[string]*profile.Selector{
		"tiles":                        ts.Tiles,
		"details_url":                  ts.DetailsURL,
		"tile_title":                   ts.TileTitle,
		"tile_price":                   ts.TilePrice,
		"tile_availability":            ts.TileAvailability,
		"tile_unavailability_sold":     ts.TileUnavailabilitySold,
		"tile_unavailability_reserved": ts.TileUnavailabilityReserved,
	}
	for name, sel := range p.DetailSelectors {
		named[name] = sel
	}

	for name, sel := range named {
		if sel == nil {
			continue
		}
		if err := validateSelector(sel, knownFunction); err != nil {
			return fmt.Errorf("%s: %s: %w", p.SourceName, name, err)
		}
	}
	return nil
}

func validateSelector(sel *profile.Selector, knownFunction func(string) bool) error {
	switch sel.Kind() {
	case profile.KindQuery:
		if !knownMethods[sel.Method] {
			return fmt.Errorf("%w: %q", ErrUnknownMethod, sel.Method)
		}
	case profile.KindFunction:
		if knownFunction != nil && !knownFunction(sel.Function) {
			return fmt.Errorf("%w: unregistered extractor %q", ErrUnknownMethod, sel.Function)
		}
	case profile.KindStatic:
	default:
		return fmt.Errorf("%w: selector has no method, function, or value", ErrUnknownMethod)
	}

	for _, step := range sel.PostProcess {
		if !KnownTransform(step.Name) {
			return fmt.Errorf("%w: %q", ErrUnknownTransform, step.Name)
		}
	}
	return nil
}
