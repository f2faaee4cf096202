// Package clean normalizes raw scraped strings into typed catalog fields.
// Every function is pure and total over its input: bad data yields an error
// or an empty result, never a panic.
package clean

import (
	"errors"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sentinel errors for required fields.
var (
	ErrEmptyTitle = errors.New("clean: empty title")
	ErrBadURL     = errors.New("clean: invalid URL")
)

var (
	spacePattern = regexp.MustCompile(`\s+`)
	stripPolicy  = bluemonday.StrictPolicy()
	absURLScheme = regexp.MustCompile(`^https?://\S+$`)

	fancyQuotes = strings.NewReplacer(
		"‘", "'", // left single
		"’", "'", // right single
		"‚", "'", // low single
		"‛", "'", // reversed single
		"′", "'", // prime
		"`", "'", // backtick
		"´", "'", // acute
	)
)

// CollapseSpace trims and collapses internal whitespace runs to one space.
func CollapseSpace(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// StripTags removes HTML markup and decodes entities.
func StripTags(s string) string {
	return html.UnescapeString(stripPolicy.Sanitize(s))
}

// URL validates and canonicalizes a product URL: trimmed, absolute http(s).
func URL(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrBadURL
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", ErrBadURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrBadURL
	}
	return s, nil
}

// URLList validates every entry as a strict absolute URL. A single invalid
// entry fails the whole list: a partially-valid gallery is worse than none,
// because image indexes must stay aligned with the source order.
func URLList(urls []string) ([]string, error) {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		s := strings.TrimSpace(raw)
		if !absURLScheme.MatchString(s) {
			return nil, ErrBadURL
		}
		out = append(out, s)
	}
	return out, nil
}

// Title normalizes a product title: entity decode, tag strip, fancy quotes
// to ', whitespace collapse. Empty input yields "".
func Title(s string) string {
	return CollapseSpace(fancyQuotes.Replace(StripTags(s)))
}

// TitleStrict is Title, but an empty result is an error. Used where the
// title is a required field.
func TitleStrict(s string) (string, error) {
	t := Title(s)
	if t == "" {
		return "", ErrEmptyTitle
	}
	return t, nil
}

var descriptionLabel = regexp.MustCompile(`(?i)^description\b`)

// Description normalizes a product description: as Title, plus dropping a
// leading literal "Description" label and stray colons.
func Description(s string) string {
	d := Title(s)
	d = descriptionLabel.ReplaceAllString(d, "")
	d = strings.Trim(d, ": ")
	return CollapseSpace(d)
}
