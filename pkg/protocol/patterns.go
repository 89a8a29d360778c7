package protocol

import (
	"fmt"
	"strconv"
	"time"
)

// Auxiliary URL patterns for the service's static download surface
// (territorial boundary archives, demographic extracts, plain CSV files).
// Each builder validates its required parameters against the registry below
// and raises a descriptive error on violation; defaults are never silently
// substituted.

// patternRegistry enumerates the valid parameter values for the auxiliary
// URL patterns.
var patternRegistry = struct {
	minYear     int
	locales     map[string]bool
	territories map[string]bool
	levels      map[string]bool
	types       map[string]bool
	dataTypes   map[string]bool
	geoLevels   map[string]bool
	subtypes    map[string]bool
}{
	minYear:     1991,
	locales:     set("it", "en"),
	territories: set("ripartizioni", "regioni", "province", "comuni"),
	levels:      set("nuts1", "nuts2", "nuts3", "lau"),
	types:       set("boundaries", "population"),
	dataTypes:   set("resident_population", "households"),
	geoLevels:   set("region", "province", "municipality"),
	subtypes:    set("preliminary", "final"),
}

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

// PatternBuilder builds the static-download URLs.
type PatternBuilder struct {
	// BaseURL is the static-download root, without a trailing slash.
	BaseURL string
}

func (b *PatternBuilder) validYear(year int) error {
	max := time.Now().Year()
	if year < patternRegistry.minYear || year > max {
		return validationErr("year", strconv.Itoa(year),
			fmt.Sprintf("must be between %d and %d", patternRegistry.minYear, max))
	}
	return nil
}

// YearURL builds the year-indexed boundary archive URL.
func (b *PatternBuilder) YearURL(year int) (string, error) {
	if err := b.validYear(year); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/territorial/boundaries/%d", b.BaseURL, year), nil
}

// YearLocaleURL builds the year-indexed, localized boundary archive URL.
func (b *PatternBuilder) YearLocaleURL(year int, locale string) (string, error) {
	if err := b.validYear(year); err != nil {
		return "", err
	}
	if !patternRegistry.locales[locale] {
		return "", validationErr("locale", locale, "must be one of: it, en")
	}
	return fmt.Sprintf("%s/territorial/boundaries/%d/%s", b.BaseURL, year, locale), nil
}

// TerritoryURL builds the territory-indexed extract URL.
func (b *PatternBuilder) TerritoryURL(territory string) (string, error) {
	if !patternRegistry.territories[territory] {
		return "", validationErr("territory", territory,
			"must be one of: ripartizioni, regioni, province, comuni")
	}
	return fmt.Sprintf("%s/territorial/units/%s", b.BaseURL, territory), nil
}

// LevelTypeYearURL builds the level + type + year extract URL.
func (b *PatternBuilder) LevelTypeYearURL(level, typ string, year int) (string, error) {
	if !patternRegistry.levels[level] {
		return "", validationErr("level", level, "must be one of: nuts1, nuts2, nuts3, lau")
	}
	if !patternRegistry.types[typ] {
		return "", validationErr("type", typ, "must be one of: boundaries, population")
	}
	if err := b.validYear(year); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/territorial/%s/%s/%d", b.BaseURL, level, typ, year), nil
}

// DataTypeGeoLevelURL builds the datatype + geographic-level extract URL.
func (b *PatternBuilder) DataTypeGeoLevelURL(dataType, geoLevel string) (string, error) {
	if !patternRegistry.dataTypes[dataType] {
		return "", validationErr("data_type", dataType,
			"must be one of: resident_population, households")
	}
	if !patternRegistry.geoLevels[geoLevel] {
		return "", validationErr("geo_level", geoLevel,
			"must be one of: region, province, municipality")
	}
	return fmt.Sprintf("%s/demographics/%s/%s", b.BaseURL, dataType, geoLevel), nil
}

// SubtypeURL builds the subtype-indexed release URL.
func (b *PatternBuilder) SubtypeURL(subtype string) (string, error) {
	if !patternRegistry.subtypes[subtype] {
		return "", validationErr("subtype", subtype, "must be one of: preliminary, final")
	}
	return fmt.Sprintf("%s/releases/%s", b.BaseURL, subtype), nil
}

// StaticFileURL builds the URL of a named static file.
func (b *PatternBuilder) StaticFileURL(name string) (string, error) {
	if name == "" {
		return "", validationErr("name", "", "must not be empty")
	}
	return fmt.Sprintf("%s/static/%s", b.BaseURL, name), nil
}

// PlainCSVURL builds the URL of a named plain-CSV export.
func (b *PatternBuilder) PlainCSVURL(name string) (string, error) {
	if name == "" {
		return "", validationErr("name", "", "must not be empty")
	}
	return fmt.Sprintf("%s/csv/%s.csv", b.BaseURL, name), nil
}
