package retrieval

import "strings"

// countryVariants maps a canonical English country name (lowercase) to the
// full set of spellings that should be tried against viewpoint.admin_regions,
// including itself. It is intentionally kept separate from aliasToCanonical:
// the two maps are disjoint in purpose, one expands a canonical name to
// search variants, the other resolves an alias (another language, an
// abbreviation) back to its canonical name.
var countryVariants = map[string][]string{
	"china":          {"China", "People's Republic of China", "PRC"},
	"united states":  {"United States", "USA", "US", "United States of America"},
	"united kingdom": {"United Kingdom", "UK", "Britain", "Great Britain"},
	"france":         {"France"},
	"germany":        {"Germany"},
	"italy":          {"Italy"},
	"spain":          {"Spain"},
	"japan":          {"Japan"},
	"south korea":    {"South Korea", "Korea"},
	"india":          {"India"},
	"brazil":         {"Brazil"},
	"australia":      {"Australia"},
	"canada":         {"Canada"},
	"mexico":         {"Mexico"},
	"russia":         {"Russia"},
}

// aliasToCanonical resolves a non-English or alternate spelling to the
// canonical key used by countryVariants.
var aliasToCanonical = map[string]string{
	"中国":  "china",
	"美国":  "united states",
	"英国":  "united kingdom",
	"法国":  "france",
	"德国":  "germany",
	"意大利": "italy",
	"西班牙": "spain",
	"日本":  "japan",
	"韩国":  "south korea",
	"印度":  "india",
	"巴西":  "brazil",
	"澳大利亚": "australia",
	"加拿大": "canada",
	"墨西哥": "mexico",
	"俄罗斯": "russia",
}

// NormalizeCountry expands a user- or LLM-supplied country name into the
// full list of spellings worth matching against admin_regions. Unknown
// inputs are returned as a single-element slice containing the trimmed
// input unchanged, so callers never need a nil check before iterating.
func NormalizeCountry(country string) []string {
	country = strings.TrimSpace(country)
	if country == "" {
		return nil
	}

	canonical, isAlias := aliasToCanonical[country]
	if !isAlias {
		canonical = strings.ToLower(country)
	}
	if variants, ok := countryVariants[canonical]; ok {
		return variants
	}
	return []string{country}
}
