package utils

import (
	"regexp"
	"strings"
)

var (
	nonAlnumPattern   = regexp.MustCompile(`[^a-z0-9\s]`)
	citySuffixPattern = regexp.MustCompile(`\b(city|district|division|municipal|corporation|metropolitan|region)\b`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// NormalizeCityKey reduces a city name to the key used to match ride
// requests against online drivers. "Jabalpur, Madhya Pradesh", "Jabalpur
// City" and "jabalpur" all share the key "jabalpur": the state/country
// tail after the first comma is dropped, administrative suffix words are
// stripped, and whitespace is collapsed.
func NormalizeCityKey(city string) string {
	value := strings.TrimSpace(strings.ToLower(city))
	if value == "" {
		return ""
	}
	if i := strings.Index(value, ","); i >= 0 {
		value = value[:i]
	}
	value = nonAlnumPattern.ReplaceAllString(value, " ")
	value = citySuffixPattern.ReplaceAllString(value, " ")
	value = whitespacePattern.ReplaceAllString(value, " ")
	return strings.TrimSpace(value)
}
