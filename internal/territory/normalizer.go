package territory

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalized is a location reduced to code fragments. Country is an ISO
// alpha-2 code; State and City are the trailing fragments of a territory
// code (so "US", "CA", "LAX" compose "US-CA-LAX"). Tokens holds the folded
// free-text parts for name matching.
type Normalized struct {
	Country string
	State   string
	City    string
	Tokens  []string
}

// Codes returns the composite codes to try, most specific first.
func (n Normalized) Codes() []string {
	if n.Country == "" {
		return nil
	}
	var codes []string
	if n.State != "" && n.City != "" {
		codes = append(codes, n.Country+"-"+n.State+"-"+n.City)
	}
	if n.State != "" {
		codes = append(codes, n.Country+"-"+n.State)
	}
	return append(codes, n.Country)
}

// Components counts the extracted fragments.
func (n Normalized) Components() int {
	c := 0
	for _, s := range []string{n.Country, n.State, n.City} {
		if s != "" {
			c++
		}
	}
	return c
}

// LocationNormalizer extracts code fragments from a location. Implementations
// may be swapped for a real geocoder without changing resolution.
type LocationNormalizer interface {
	Normalize(loc Location) Normalized
}

type placeRef struct {
	country, state, city string
}

// HeuristicNormalizer matches whole words of the folded location against
// alias tables, longest alias first. Unmatched text is ignored.
type HeuristicNormalizer struct {
	countries map[string]string
	states    map[string]placeRef
	cities    map[string]placeRef

	countryKeys, stateKeys, cityKeys []string
	stateAbbrev                      map[string]map[string]bool
}

// NewHeuristicNormalizer builds a normalizer over the built-in tables.
func NewHeuristicNormalizer() *HeuristicNormalizer {
	h := &HeuristicNormalizer{
		countries:   countryAliases,
		states:      stateAliases,
		cities:      cityAliases,
		stateAbbrev: make(map[string]map[string]bool),
	}
	h.countryKeys = sortedKeys(h.countries)
	h.stateKeys = sortedKeys(h.states)
	h.cityKeys = sortedKeys(h.cities)
	for _, ref := range stateAliases {
		if h.stateAbbrev[ref.country] == nil {
			h.stateAbbrev[ref.country] = make(map[string]bool)
		}
		h.stateAbbrev[ref.country][ref.state] = true
	}
	return h
}

// Normalize implements LocationNormalizer.
func (h *HeuristicNormalizer) Normalize(loc Location) Normalized {
	var n Normalized

	// Structured fields win over free text.
	if c := strings.TrimSpace(loc.Country); c != "" {
		n.Country = h.country(c)
	}
	if s := strings.TrimSpace(loc.State); s != "" {
		n.Country, n.State = h.state(s, n.Country)
	}
	if c := strings.TrimSpace(loc.City); c != "" {
		if ref, ok := h.cities[Fold(c)]; ok && (n.Country == "" || n.Country == ref.country) {
			n.Country, n.State, n.City = ref.country, ref.state, ref.city
		}
	}

	parts := splitParts(loc)
	for _, p := range parts {
		n.Tokens = append(n.Tokens, Fold(p))
	}

	text := " " + strings.Join(n.Tokens, " ") + " "
	if n.City == "" {
		if ref, ok := matchWord(text, h.cityKeys, h.cities); ok && (n.Country == "" || n.Country == ref.country) {
			n.Country, n.State, n.City = ref.country, ref.state, ref.city
		}
	}
	if n.State == "" {
		if ref, ok := matchWord(text, h.stateKeys, h.states); ok && (n.Country == "" || n.Country == ref.country) {
			n.Country, n.State = ref.country, ref.state
		}
	}
	if n.Country == "" {
		if cc, ok := matchWord(text, h.countryKeys, h.countries); ok {
			n.Country = cc
		}
	}

	// Bare codes in comma-separated parts, e.g. "Austin, TX, US".
	for i := len(parts) - 1; i >= 0; i-- {
		p := strings.ToUpper(strings.TrimSpace(parts[i]))
		if len(p) < 2 || len(p) > 3 || !isLetters(p) {
			continue
		}
		// A trailing code after two or more parts is a country ("Austin, TX, US");
		// otherwise subdivision codes win ("Sacramento, CA").
		trailingCountry := i == len(parts)-1 && len(parts) >= 3
		switch {
		case n.State == "" && !trailingCountry && h.isStateAbbrev(n.Country, p):
			if n.Country == "" {
				n.Country = "US"
			}
			n.State = p
		case n.Country == "" && isCountryCode(p):
			n.Country = p
		}
	}

	return n
}

func (h *HeuristicNormalizer) country(s string) string {
	up := strings.ToUpper(s)
	if isCountryCode(up) {
		return up
	}
	if cc, ok := h.countries[Fold(s)]; ok {
		return cc
	}
	return ""
}

func (h *HeuristicNormalizer) state(s, country string) (string, string) {
	if ref, ok := h.states[Fold(s)]; ok && (country == "" || country == ref.country) {
		return ref.country, ref.state
	}
	up := strings.ToUpper(s)
	if h.isStateAbbrev(country, up) {
		if country == "" {
			country = "US"
		}
		return country, up
	}
	return country, ""
}

// isStateAbbrev checks a subdivision code. Without a country only US
// abbreviations are accepted.
func (h *HeuristicNormalizer) isStateAbbrev(country, code string) bool {
	if country == "" {
		country = "US"
	}
	return h.stateAbbrev[country][code]
}

// Fold lower-cases s, strips accents and collapses punctuation to spaces.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space && b.Len() > 0 {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func splitParts(loc Location) []string {
	var parts []string
	for _, p := range strings.FieldsFunc(loc.Raw, func(r rune) bool { return r == ',' || r == ';' || r == '/' || r == '|' }) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	for _, p := range []string{loc.City, loc.State, loc.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func matchWord[V any](text string, keys []string, table map[string]V) (V, bool) {
	for _, k := range keys {
		if strings.Contains(text, " "+k+" ") {
			return table[k], true
		}
	}
	var zero V
	return zero, false
}

// sortedKeys orders aliases longest first so "new york city" beats "new york".
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func isCountryCode(s string) bool {
	_, ok := countryCodes[s]
	return ok
}
