package clean

import "strings"

var availabilityTrue = map[string]bool{
	"true":           true,
	"yes":            true,
	"in stock":       true,
	"available":      true,
	"1":              true,
	"1 in stock":     true,
	"stock in-stock": true,
}

var availabilityFalse = map[string]bool{
	"false":        true,
	"no":           true,
	"sold":         true,
	"unavailable":  true,
	"out of stock": true,
	"0":            true,
	"sold out":     true,
}

// Availability coerces a string into a boolean using the closed synonym set.
// ok=false means the string is not a recognized signal.
func Availability(s string) (avail bool, ok bool) {
	key := strings.ToLower(CollapseSpace(s))
	if availabilityTrue[key] {
		return true, true
	}
	if availabilityFalse[key] {
		return false, true
	}
	return false, false
}

// AvailabilityFromText inspects free-form element text: the presence of
// "in stock" or "add to cart" reads as available.
func AvailabilityFromText(text string) bool {
	t := strings.ToLower(text)
	return strings.Contains(t, "in stock") || strings.Contains(t, "add to cart")
}
