package clean

import (
	"regexp"
	"strconv"
	"strings"
)

var numberPattern = regexp.MustCompile(`\d[\d.,]*`)

// Price parses a price string of unknown locale into a non-negative amount.
// Returns ok=false when nothing parseable is present.
//
// The corpus mixes European and US formats, so separators are resolved
// heuristically:
//
//  1. both "." and "," present: the rightmost is the decimal separator,
//     the other is thousands and is removed
//  2. a single "." with exactly three trailing digits and no ",": thousands
//  3. a lone ",": decimal separator
//  4. multiple "." and no ",": all but the last are removed
func Price(s string) (float64, bool) {
	s = StripTags(s)
	token := numberPattern.FindString(s)
	if token == "" {
		return 0, false
	}

	dots := strings.Count(token, ".")
	commas := strings.Count(token, ",")

	switch {
	case dots > 0 && commas > 0:
		if strings.LastIndex(token, ".") > strings.LastIndex(token, ",") {
			token = strings.ReplaceAll(token, ",", "")
		} else {
			token = strings.ReplaceAll(token, ".", "")
			token = strings.Replace(token, ",", ".", 1)
		}
	case dots == 1:
		frac := token[strings.Index(token, ".")+1:]
		if len(frac) == 3 {
			token = strings.ReplaceAll(token, ".", "")
		}
	case commas == 1:
		token = strings.Replace(token, ",", ".", 1)
	case commas > 1:
		// Repeated commas are thousands groups.
		token = strings.ReplaceAll(token, ",", "")
	case dots > 1:
		last := strings.LastIndex(token, ".")
		token = strings.ReplaceAll(token[:last], ".", "") + token[last:]
		// The survivor is re-read under rule 2: three trailing digits
		// means the whole thing was dot-grouped thousands.
		if frac := token[strings.Index(token, ".")+1:]; len(frac) == 3 {
			token = strings.ReplaceAll(token, ".", "")
		}
	}

	v, err := strconv.ParseFloat(token, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// FormatPrice renders a parsed price back to its canonical string form.
func FormatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
