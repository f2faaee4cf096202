package selector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/peposaru/milivault/profile"
)

// transformFunc is one step of a post-process pipeline. It receives the
// current value, its declared argument, the element the selector matched,
// and the extraction context.
type transformFunc func(v any, arg any, node *goquery.Selection, pctx Ctx) (any, error)

// acceptsNil lists transforms that run even when the current value is nil.
// Everything else short-circuits the pipeline on nil.
var acceptsNil = map[string]bool{
	"set":      true,
	"from_url": true,
}

var registry = map[string]transformFunc{
	"prepend": func(v, arg any, _ *goquery.Selection, _ Ctx) (any, error) {
		if !truthy(v) {
			return v, nil
		}
		return asString(arg) + strings.TrimSpace(asString(v)), nil
	},
	"append": func(v, arg any, _ *goquery.Selection, _ Ctx) (any, error) {
		if !truthy(v) {
			return v, nil
		}
		return strings.TrimSpace(asString(v)) + asString(arg), nil
	},
	"smart_prepend": func(v, arg any, _ *goquery.Selection, _ Ctx) (any, error) {
		if !truthy(v) {
			return v, nil
		}
		s := strings.TrimSpace(asString(v))
		if strings.HasPrefix(s, "http") {
			return s, nil
		}
		return asString(arg) + s, nil
	},
	"strip": func(v, _ any, _ *goquery.Selection, _ Ctx) (any, error) {
		return strings.TrimSpace(asString(v)), nil
	},
	"strip_html_tags": func(v, _ any, _ *goquery.Selection, _ Ctx) (any, error) {
		return tagPattern.ReplaceAllString(asString(v), ""), nil
	},
	"replace_all":     ppReplaceAll,
	"remove_prefix":   ppRemovePrefix,
	"remove_suffix":   ppRemoveSuffix,
	"split":           ppSplit,
	"regex":           ppRegex,
	"set":             func(_, arg any, _ *goquery.Selection, _ Ctx) (any, error) { return arg, nil },
	"find_text_contains": ppFindTextContains,
	"submethod_exists":   ppSubmethodExists,
	"validate_startswith": func(v, arg any, _ *goquery.Selection, _ Ctx) (any, error) {
		s := asString(v)
		if strings.HasPrefix(s, asString(arg)) {
			return s, nil
		}
		return nil, nil
	},
	"from_url": func(_, _ any, _ *goquery.Selection, pctx Ctx) (any, error) {
		return pctx.ProductURL, nil
	},
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// KnownTransform reports whether name is in the registry. The registry is
// closed: new transforms are a reviewed code change, never profile data.
func KnownTransform(name string) bool {
	_, ok := registry[name]
	return ok
}

// runPipeline applies steps in declared order. A nil value short-circuits
// unless the step explicitly accepts nil.
func runPipeline(v any, steps []profile.Transform, node *goquery.Selection, pctx Ctx) (any, error) {
	for _, step := range steps {
		fn, ok := registry[step.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, step.Name)
		}
		if v == nil && !acceptsNil[step.Name] {
			return nil, nil
		}
		next, err := fn(v, step.Arg, node, pctx)
		if err != nil {
			return nil, err
		}
		v = next
	}
	return v, nil
}

func ppReplaceAll(v, arg any, _ *goquery.Selection, _ Ctx) (any, error) {
	pairs, ok := arg.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: replace_all wants a list of {old,new}", ErrBadTransformArg)
	}
	s := asString(v)
	for _, raw := range pairs {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: replace_all entry must be an object", ErrBadTransformArg)
		}
		s = strings.ReplaceAll(s, asString(m["old"]), asString(m["new"]))
	}
	return s, nil
}

func ppRemovePrefix(v, arg any, _ *goquery.Selection, _ Ctx) (any, error) {
	return strings.TrimSpace(strings.TrimPrefix(asString(v), asString(arg))), nil
}

func ppRemoveSuffix(v, arg any, _ *goquery.Selection, _ Ctx) (any, error) {
	return strings.TrimSpace(strings.TrimSuffix(asString(v), asString(arg))), nil
}

func ppSplit(v, arg any, _ *goquery.Selection, _ Ctx) (any, error) {
	m, ok := arg.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: split wants {delimiter, take}", ErrBadTransformArg)
	}
	delim := asString(m["delimiter"])
	if delim == "" {
		return nil, fmt.Errorf("%w: split delimiter is required", ErrBadTransformArg)
	}
	parts := strings.Split(asString(v), delim)
	switch take := asString(m["take"]); take {
	case "first":
		return strings.TrimSpace(parts[0]), nil
	case "last":
		return strings.TrimSpace(parts[len(parts)-1]), nil
	default:
		return nil, fmt.Errorf("%w: split take must be first or last, got %q", ErrBadTransformArg, take)
	}
}

func ppRegex(v, arg any, _ *goquery.Selection, _ Ctx) (any, error) {
	var pattern string
	switch t := arg.(type) {
	case string:
		pattern = t
	case map[string]any:
		pattern = asString(t["pattern"])
	default:
		return nil, fmt.Errorf("%w: regex wants a pattern", ErrBadTransformArg)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: regex %q: %v", ErrBadTransformArg, pattern, err)
	}
	m := re.FindStringSubmatch(asString(v))
	if len(m) < 2 {
		return nil, nil
	}
	return m[1], nil
}

func ppFindTextContains(v, arg any, _ *goquery.Selection, _ Ctx) (any, error) {
	m, ok := arg.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: find_text_contains wants {value, case_insensitive, if_true, if_false}", ErrBadTransformArg)
	}
	haystack := asString(v)
	needle := asString(m["value"])
	if ci, _ := m["case_insensitive"].(bool); ci {
		haystack = strings.ToLower(haystack)
		needle = strings.ToLower(needle)
	}
	if strings.Contains(haystack, needle) {
		return m["if_true"], nil
	}
	return m["if_false"], nil
}

// ppSubmethodExists runs a sub-query against the element the selector
// matched and compares the existence result with the expected boolean.
func ppSubmethodExists(_, arg any, node *goquery.Selection, _ Ctx) (any, error) {
	m, ok := arg.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: submethod_exists wants {method, args, kwargs, expect}", ErrBadTransformArg)
	}
	if node == nil {
		return nil, nil
	}

	sub := &profile.Selector{Method: asString(m["method"])}
	if args, ok := m["args"].([]any); ok {
		for _, a := range args {
			sub.Args = append(sub.Args, asString(a))
		}
	}
	if kw, ok := m["kwargs"].(map[string]any); ok {
		sub.Kwargs = kw
	}

	var exists bool
	if sub.Method == MethodHasAttr {
		name := ""
		if len(sub.Args) > 0 {
			name = sub.Args[0]
		}
		_, exists = node.Attr(name)
	} else {
		css, err := buildCSS(sub)
		if err != nil {
			return nil, err
		}
		exists = node.Find(css).Length() > 0
	}

	expect := true
	if e, ok := m["expect"].(bool); ok {
		expect = e
	}
	return exists == expect, nil
}
