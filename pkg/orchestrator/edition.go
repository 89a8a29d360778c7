package orchestrator

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// editionPattern matches dated edition codes such as "G_2024_01" or
// "G_2024_01_15": a letter prefix, a four-digit year, a month and an
// optional day.
var editionPattern = regexp.MustCompile(`^[A-Za-z]+_(\d{4})_(\d{1,2})(?:_(\d{1,2}))?$`)

// ParseEditionDate converts an edition code into the calendar date it names.
func ParseEditionDate(code string) (time.Time, error) {
	m := editionPattern.FindStringSubmatch(code)
	if m == nil {
		return time.Time{}, fmt.Errorf("edition code %q does not match the dated pattern", code)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day := 1
	if m[3] != "" {
		day, _ = strconv.Atoi(m[3])
	}
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("edition code %q has month %d outside 1-12", code, month)
	}
	if day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("edition code %q has day %d outside 1-31", code, day)
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

// LatestEdition picks the chronologically latest edition code. Comparison is
// by parsed calendar date, never by the raw string: across a year boundary
// lexicographic order diverges from chronological order ("G_2023_12" sorts
// after "G_2024_02" as a string).
func LatestEdition(codes []string) (string, error) {
	if len(codes) == 0 {
		return "", fmt.Errorf("no edition codes given")
	}

	var latest string
	var latestDate time.Time
	for i, code := range codes {
		date, err := ParseEditionDate(code)
		if err != nil {
			return "", err
		}
		if i == 0 || date.After(latestDate) {
			latest = code
			latestDate = date
		}
	}
	return latest, nil
}
