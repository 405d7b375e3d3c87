// Package taxonomy derives collection and tag labels for an artwork from
// fixed lookup tables: era buckets keyed by the work's start year, and theme
// buckets matched by scanning descriptive text for associated keywords.
package taxonomy

import "strings"

// eraBucket is a fixed named date range.
type eraBucket struct {
	label string
	from  int // inclusive
	to    int // inclusive
}

var eraBuckets = []eraBucket{
	{"Ancient", -10000, 499},
	{"Medieval", 500, 1399},
	{"Renaissance", 1400, 1599},
	{"Baroque", 1600, 1749},
	{"Neoclassical", 1750, 1799},
	{"19th Century", 1800, 1899},
	{"Modern", 1900, 1945},
	{"Contemporary", 1946, 9999},
}

// EraForYear returns the era bucket label for a creation year. The zero year
// means the date is unknown and matches nothing.
func EraForYear(year int) (string, bool) {
	if year == 0 {
		return "", false
	}
	for _, b := range eraBuckets {
		if year >= b.from && year <= b.to {
			return b.label, true
		}
	}
	return "", false
}

// themeEntry maps a theme label to the keywords that select it. Ordering is
// fixed; first keyword match wins per label, labels are independent.
type themeEntry struct {
	label    string
	keywords []string
}

var themeTable = []themeEntry{
	{"Landscape", []string{"landscape", "mountain", "valley", "meadow", "river", "forest"}},
	{"Portrait", []string{"portrait", "self-portrait", "bust of"}},
	{"Botanical", []string{"flower", "floral", "botanical", "garden", "blossom"}},
	{"Maritime", []string{"seascape", "ship", "harbor", "coast", "naval", "ocean"}},
	{"Religious", []string{"madonna", "saint", "christ", "biblical", "angel", "crucifixion"}},
	{"Mythology", []string{"mytholog", "venus", "apollo", "goddess", "nymph", "hercules"}},
	{"Still Life", []string{"still life", "fruit", "vase of", "tableware"}},
	{"Animals", []string{"horse", "dog", "bird", "lion", "cattle"}},
	{"Architecture", []string{"cathedral", "palace", "ruins", "bridge", "facade"}},
}

// Themes scans a lower-cased text blob (title, description, medium,
// classification concatenated by the caller) and returns every matching
// theme label in table order.
func Themes(blob string) []string {
	blob = strings.ToLower(blob)
	var out []string
	for _, e := range themeTable {
		for _, kw := range e.keywords {
			if strings.Contains(blob, kw) {
				out = append(out, e.label)
				break
			}
		}
	}
	return out
}
