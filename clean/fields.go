package clean

import (
	"regexp"
	"strings"
)

var (
	fieldLabel   = regexp.MustCompile(`(?i)^(categories|category|archive)\s*:\s*`)
	noiseWords   = regexp.MustCompile(`(?i)\b(sold|new|militaria)\b`)
	notSpecified = regexp.MustCompile(`(?i)^not\s+specified$`)
	lastParens   = regexp.MustCompile(`\(([^()]*)\)[^()]*$`)
)

// sanitizeField applies the shared classification-field rules: tag strip,
// label drop, noise-word removal, whitespace collapse.
func sanitizeField(s string) string {
	s = StripTags(s)
	s = CollapseSpace(s)
	s = fieldLabel.ReplaceAllString(s, "")
	s = noiseWords.ReplaceAllString(s, "")
	s = CollapseSpace(s)
	if notSpecified.MatchString(s) {
		return ""
	}
	return s
}

// Nation normalizes a nation field: sanitize and uppercase.
func Nation(s string) string {
	return strings.ToUpper(sanitizeField(s))
}

// Conflict normalizes a conflict field: sanitize and uppercase.
func Conflict(s string) string {
	return strings.ToUpper(sanitizeField(s))
}

// ItemType normalizes an item-type field: sanitize and uppercase.
func ItemType(s string) string {
	return strings.ToUpper(sanitizeField(s))
}

// Grade normalizes a condition-grade field: sanitize and title-case.
func Grade(s string) string {
	return titleCase(sanitizeField(s))
}

// Categories normalizes a categories field: sanitize and title-case.
func Categories(s string) string {
	return titleCase(sanitizeField(s))
}

// ExtractedID pulls a site-native product identifier out of free text:
// the contents of the last parenthesized group when present, otherwise the
// segment after the last "-". Identifiers longer than 20 runes are junk.
func ExtractedID(s string) string {
	s = CollapseSpace(StripTags(s))
	if m := lastParens.FindStringSubmatch(s); m != nil {
		s = m[1]
	} else if i := strings.LastIndex(s, "-"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ToUpper(CollapseSpace(s))
	if len([]rune(s)) > 20 {
		return ""
	}
	return s
}

// titleCase uppercases the first letter of each space-separated word and
// lowercases the rest.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
