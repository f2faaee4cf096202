// Package selector evaluates declarative extraction rules against parsed
// HTML. A profile names a query method plus arguments; the engine resolves it
// with goquery and feeds the result through the selector's post-process
// pipeline. Missing nodes yield nil, never an error: only malformed
// configuration is reported.
package selector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/peposaru/milivault/clean"
	"github.com/peposaru/milivault/profile"
)

// Sentinel errors. All of them indicate profile configuration problems.
var (
	ErrUnknownMethod    = errors.New("selector: unknown query method")
	ErrUnknownTransform = errors.New("selector: unknown post-process transform")
	ErrNamedFunction    = errors.New("selector: named-function selector must be dispatched by the gallery registry")
	ErrBadTransformArg  = errors.New("selector: bad transform argument")
)

// Query methods understood by the engine.
const (
	MethodFind      = "find"
	MethodFindAll   = "find_all"
	MethodSelect    = "select"
	MethodSelectOne = "select_one"
	MethodHasAttr   = "has_attr"
)

// Kwarg keys that carry post-processor metadata and must be stripped before
// the DOM query runs.
var metaKwargs = map[string]bool{"expect": true, "exists": true}

// Ctx carries per-extraction context available to transforms.
type Ctx struct {
	// ProductURL is the URL of the product being processed (for from_url).
	ProductURL string
	// BaseURL is the site's base URL, used to absolutize relative values.
	BaseURL string
}

// Engine evaluates selectors. Zero value is ready to use.
type Engine struct{}

// Extract evaluates sp against root and returns the final value:
// a string, a bool, a *goquery.Selection (for multi-node queries with no
// attribute), or nil when nothing matched.
func (e *Engine) Extract(root *goquery.Selection, sp *profile.Selector, pctx Ctx) (any, error) {
	if root == nil || sp == nil {
		return nil, nil
	}

	var val any
	node := root

	switch sp.Kind() {
	case profile.KindStatic:
		val = sp.Static
	case profile.KindFunction:
		return nil, fmt.Errorf("%w: %q", ErrNamedFunction, sp.Function)
	case profile.KindQuery:
		v, matched, err := e.query(root, sp)
		if err != nil {
			return nil, err
		}
		val = v
		if matched != nil {
			node = matched
		}
	default:
		return nil, fmt.Errorf("%w: empty selector", ErrUnknownMethod)
	}

	return runPipeline(val, sp.PostProcess, node, pctx)
}

// Nodes evaluates a multi-node selector (tiles) and returns every match in
// document order. Single-node methods return at most one element.
func (e *Engine) Nodes(root *goquery.Selection, sp *profile.Selector) (*goquery.Selection, error) {
	if root == nil || sp == nil || sp.Kind() != profile.KindQuery {
		return nil, fmt.Errorf("%w: tiles selector must be a DOM query", ErrUnknownMethod)
	}
	css, err := buildCSS(sp)
	if err != nil {
		return nil, err
	}
	matches := root.Find(css)
	switch sp.Method {
	case MethodFind, MethodSelectOne:
		return matches.First(), nil
	case MethodFindAll, MethodSelect:
		return matches, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, sp.Method)
	}
}

// query resolves the DOM query and returns the raw value plus the matched
// element (for transforms that re-query the element).
func (e *Engine) query(root *goquery.Selection, sp *profile.Selector) (any, *goquery.Selection, error) {
	if sp.Method == MethodHasAttr {
		// Attribute read on the current node, no sub-search.
		name := sp.Attribute
		if name == "" && len(sp.Args) > 0 {
			name = sp.Args[0]
		}
		v, _ := root.Attr(name)
		return v, root, nil
	}

	css, err := buildCSS(sp)
	if err != nil {
		return nil, nil, err
	}
	matches := root.Find(css)
	if matches.Length() == 0 {
		return nil, nil, nil
	}

	switch sp.Method {
	case MethodFind, MethodSelectOne:
		first := matches.First()
		if sp.Attribute != "" {
			v, ok := first.Attr(sp.Attribute)
			if !ok {
				return nil, first, nil
			}
			return clean.CollapseSpace(v), first, nil
		}
		return clean.CollapseSpace(first.Text()), first, nil
	case MethodFindAll, MethodSelect:
		if sp.Attribute != "" {
			var vals []string
			matches.Each(func(_ int, s *goquery.Selection) {
				if v, ok := s.Attr(sp.Attribute); ok {
					vals = append(vals, clean.CollapseSpace(v))
				}
			})
			if len(vals) == 0 {
				return nil, matches, nil
			}
			return strings.Join(vals, " "), matches, nil
		}
		return matches, matches, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownMethod, sp.Method)
	}
}

// buildCSS converts (args, kwargs) into a CSS selector string. find/find_all
// take a tag name plus class/id/attribute kwargs; select/select_one take a
// raw CSS selector as the first arg.
func buildCSS(sp *profile.Selector) (string, error) {
	switch sp.Method {
	case MethodSelect, MethodSelectOne:
		if len(sp.Args) == 0 || strings.TrimSpace(sp.Args[0]) == "" {
			return "", fmt.Errorf("%w: %s requires a CSS selector arg", ErrUnknownMethod, sp.Method)
		}
		return sp.Args[0], nil
	case MethodFind, MethodFindAll:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, sp.Method)
	}

	var b strings.Builder
	if len(sp.Args) > 0 {
		b.WriteString(sp.Args[0])
	}
	for key, raw := range sp.Kwargs {
		if metaKwargs[key] {
			continue
		}
		switch key {
		case "class", "class_":
			for _, cls := range strings.Fields(asString(raw)) {
				b.WriteString("." + cls)
			}
		case "id":
			b.WriteString("#" + asString(raw))
		default:
			if v, ok := raw.(bool); ok && v {
				// Presence-only attribute filter.
				fmt.Fprintf(&b, "[%s]", key)
				continue
			}
			fmt.Fprintf(&b, "[%s=%q]", key, asString(raw))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %s requires a tag or kwargs", ErrUnknownMethod, sp.Method)
	}
	return b.String(), nil
}

// asString renders a raw value for pipeline handoff.
func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case *goquery.Selection:
		return clean.CollapseSpace(t.Text())
	default:
		return fmt.Sprintf("%v", t)
	}
}

// truthy reports whether a pipeline value should be treated as present.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case *goquery.Selection:
		return t.Length() > 0
	default:
		return true
	}
}
