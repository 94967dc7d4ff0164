// Package timeparsing provides layered time parsing for relative date/time
// expressions, as accepted by flags like `sp list --since`.
//
// Layers are tried in order:
//  1. Compact duration (+6h, -1d, +2w)
//  2. Natural language (tomorrow, next monday, 3 days ago)
//  3. Date-only (2025-02-01)
//  4. RFC3339 (2025-03-15T14:30:00Z)
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// compactDurationRe matches compact duration patterns: [+-]?(\d+)([hdwmy])
// Examples: +6h, -1d, +2w, 3m, 1y
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// ParseCompactDuration parses compact duration syntax and returns the resulting time.
//
// Format: [+-]?(\d+)([hdwmy])
//
// Units:
//   - h = hours
//   - d = days
//   - w = weeks
//   - m = months
//   - y = years
//
// Examples:
//   - "+6h" -> now + 6 hours
//   - "-1d" -> now - 1 day
//   - "+2w" -> now + 2 weeks
//   - "3m"  -> now + 3 months (no sign = positive)
//   - "1y"  -> now + 1 year
//
// Returns error if input doesn't match the compact duration pattern.
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	matches := compactDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return time.Time{}, fmt.Errorf("not a compact duration: %q", s)
	}

	sign := matches[1]
	amountStr := matches[2]
	unit := matches[3]

	amount, err := strconv.Atoi(amountStr)
	if err != nil {
		// Should not happen given regex ensures digits, but handle gracefully
		return time.Time{}, fmt.Errorf("invalid duration amount: %q", amountStr)
	}

	// Apply sign (default positive)
	if sign == "-" {
		amount = -amount
	}

	return applyDuration(now, amount, unit), nil
}

// applyDuration applies the given amount and unit to the base time.
func applyDuration(base time.Time, amount int, unit string) time.Time {
	switch unit {
	case "h":
		return base.Add(time.Duration(amount) * time.Hour)
	case "d":
		return base.AddDate(0, 0, amount)
	case "w":
		return base.AddDate(0, 0, amount*7)
	case "m":
		return base.AddDate(0, amount, 0)
	case "y":
		return base.AddDate(amount, 0, 0)
	default:
		// Should not happen given regex, but return base unchanged
		return base
	}
}

// IsCompactDuration returns true if the string matches compact duration syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(s)
}

// ParseRelativeTime parses a time expression using the layered strategy.
// Each layer is tried in order; the first that accepts the input wins, so
// "+1d" is always a compact duration and never handed to the NLP layer.
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	// Layer 1: compact duration.
	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}

	// Layer 3 and 4 before NLP: an absolute timestamp is unambiguous, and
	// the NLP layer could otherwise pick digits out of one.
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	// Layer 2: natural language.
	if t, err := ParseNaturalLanguage(s, now); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized time expression: %q (try +1d, \"tomorrow\", 2006-01-02, or RFC3339)", s)
}
