package pool

import "strings"

// continents maps country names, with spaces, to their continent.
var continents = map[string]string{
	"Algeria":              "Africa",
	"Egypt":                "Africa",
	"Kenya":                "Africa",
	"Morocco":              "Africa",
	"Nigeria":              "Africa",
	"South Africa":         "Africa",
	"Tunisia":              "Africa",
	"Bangladesh":           "Asia",
	"China":                "Asia",
	"Georgia":              "Asia",
	"Hong Kong":            "Asia",
	"India":                "Asia",
	"Indonesia":            "Asia",
	"Iran":                 "Asia",
	"Israel":               "Asia",
	"Japan":                "Asia",
	"Kazakhstan":           "Asia",
	"Malaysia":             "Asia",
	"Pakistan":             "Asia",
	"Philippines":          "Asia",
	"Singapore":            "Asia",
	"South Korea":          "Asia",
	"Taiwan":               "Asia",
	"Thailand":             "Asia",
	"Turkey":               "Asia",
	"United Arab Emirates": "Asia",
	"Vietnam":              "Asia",
	"Austria":              "Europe",
	"Belarus":              "Europe",
	"Belgium":              "Europe",
	"Bulgaria":             "Europe",
	"Croatia":              "Europe",
	"Czechia":              "Europe",
	"Czech Republic":       "Europe",
	"Denmark":              "Europe",
	"Estonia":              "Europe",
	"Finland":              "Europe",
	"France":               "Europe",
	"Germany":              "Europe",
	"Greece":               "Europe",
	"Hungary":              "Europe",
	"Iceland":              "Europe",
	"Ireland":              "Europe",
	"Italy":                "Europe",
	"Latvia":               "Europe",
	"Lithuania":            "Europe",
	"Luxembourg":           "Europe",
	"Moldova":              "Europe",
	"Netherlands":          "Europe",
	"North Macedonia":      "Europe",
	"Norway":               "Europe",
	"Poland":               "Europe",
	"Portugal":             "Europe",
	"Romania":              "Europe",
	"Russia":               "Europe",
	"Serbia":               "Europe",
	"Slovakia":             "Europe",
	"Slovenia":             "Europe",
	"Spain":                "Europe",
	"Sweden":               "Europe",
	"Switzerland":          "Europe",
	"Ukraine":              "Europe",
	"United Kingdom":       "Europe",
	"Canada":               "North America",
	"Costa Rica":           "North America",
	"Mexico":               "North America",
	"United States":        "North America",
	"Australia":            "Oceania",
	"New Zealand":          "Oceania",
	"Argentina":            "South America",
	"Brazil":               "South America",
	"Chile":                "South America",
	"Colombia":             "South America",
	"Ecuador":              "South America",
	"Peru":                 "South America",
	"Uruguay":              "South America",
}

// ContinentOf returns the continent of country, or "" if the country is not
// known.  Country names from the feeds use "_" for spaces; so does the result.
func ContinentOf(country string) string {
	continent, ok := continents[strings.ReplaceAll(country, "_", " ")]
	if !ok {
		return ""
	}
	return strings.ReplaceAll(continent, " ", "_")
}
