package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	isoDateRe  = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	euroDateRe = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{2,4})\b`)
	// "12. März 2024", "3 May 2025"
	monthNameRe = regexp.MustCompile(`(?i)\b(\d{1,2})\.?\s+(` + monthAlternation + `)\s+(\d{2,4})\b`)
)

// monthsByName covers German and English month names, lowercased.
var monthsByName = map[string]time.Month{
	"januar": time.January, "january": time.January,
	"februar": time.February, "february": time.February,
	"märz": time.March, "maerz": time.March, "march": time.March,
	"april": time.April,
	"mai":   time.May, "may": time.May,
	"juni": time.June, "june": time.June,
	"juli": time.July, "july": time.July,
	"august":    time.August,
	"september": time.September,
	"oktober":   time.October, "october": time.October,
	"november": time.November,
	"dezember": time.December, "december": time.December,
}

var monthAlternation = func() string {
	names := make([]string, 0, len(monthsByName))
	for n := range monthsByName {
		names = append(names, n)
	}
	return strings.Join(names, "|")
}()

// ExtractDate finds the first recognizable document date in text and
// returns it as YYYY-MM-DD, or "" when none is found. Two-digit years
// are interpreted as 20xx.
func ExtractDate(text string) string {
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		if d := buildDate(m[3], m[2], m[1]); d != "" {
			return d
		}
	}
	if m := euroDateRe.FindStringSubmatch(text); m != nil {
		if d := buildDate(m[1], m[2], m[3]); d != "" {
			return d
		}
	}
	if m := monthNameRe.FindStringSubmatch(text); m != nil {
		month, ok := monthsByName[strings.ToLower(m[2])]
		if ok {
			if d := buildDate(m[1], strconv.Itoa(int(month)), m[3]); d != "" {
				return d
			}
		}
	}
	return ""
}

// buildDate validates day/month/year strings into YYYY-MM-DD.
func buildDate(dayS, monthS, yearS string) string {
	day, err1 := strconv.Atoi(dayS)
	month, err2 := strconv.Atoi(monthS)
	year, err3 := strconv.Atoi(yearS)
	if err1 != nil || err2 != nil || err3 != nil {
		return ""
	}
	if year < 100 {
		year += 2000
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return ""
	}
	// Reject impossible dates like 31.02.
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || d.Month() != time.Month(month) || d.Year() != year {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}
