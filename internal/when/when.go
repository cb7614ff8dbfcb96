// Package when parses operator-supplied publish-time expressions.
//
// Three grammars are accepted, tried in order:
//
//	HH:MM               today in the reference zone; rolls to tomorrow
//	                    when the instant is not strictly in the future
//	YYYY-MM-DD HH:MM    absolute, calendar-validated
//	in N<unit>          relative; unit is m|min|h|hr|d (case-insensitive)
//
// Anything else is "no match", which callers answer with a usage hint.
package when

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reClock = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)
	reDate  = regexp.MustCompile(`^\s*(\d{4})-(\d{2})-(\d{2})\s+(\d{1,2}):(\d{2})\s*$`)
	reDelay = regexp.MustCompile(`(?i)^\s*in\s+(\d+)\s*(m|min|h|hr|d)\s*$`)
)

// Parse resolves s against now. The returned instant is in now's
// location. ok is false when s matches no grammar.
func Parse(s string, now time.Time) (at time.Time, ok bool) {
	if m := reClock.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if hh > 23 || mm > 59 {
			return time.Time{}, false
		}
		at = time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at, true
	}

	if m := reDate.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		hh, _ := strconv.Atoi(m[4])
		mm, _ := strconv.Atoi(m[5])
		if mo < 1 || mo > 12 || hh > 23 || mm > 59 {
			return time.Time{}, false
		}
		at = time.Date(y, time.Month(mo), d, hh, mm, 0, 0, now.Location())
		// time.Date normalizes out-of-range days (Feb 30 -> Mar 2);
		// reject anything that did not round-trip.
		if at.Day() != d || at.Month() != time.Month(mo) || at.Year() != y {
			return time.Time{}, false
		}
		return at, true
	}

	if m := reDelay.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		switch strings.ToLower(m[2]) {
		case "m", "min":
			return now.Add(time.Duration(n) * time.Minute), true
		case "h", "hr":
			return now.Add(time.Duration(n) * time.Hour), true
		case "d":
			return now.AddDate(0, 0, n), true
		}
	}

	return time.Time{}, false
}
