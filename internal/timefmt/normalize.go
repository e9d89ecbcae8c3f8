// Package timefmt converts the time representations returned by the backend
// (bare "HH:MM" tokens, local-naive timestamps and zoned timestamps) into one
// canonical local wall-clock string.
//
// Everything else in the module routes through this package instead of doing
// its own date math, so timezone handling lives in exactly one place.
package timefmt

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// Layout is the canonical "YYYY-MM-DD HH:MM:SS" wall-clock format.
	Layout = "2006-01-02 15:04:05"
	// DateLayout is a calendar day without time.
	DateLayout = "2006-01-02"
)

var (
	bareRe  = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)
	naiveRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})[ T](\d{1,2}):(\d{2})(?::(\d{2})(?:\.\d+)?)?$`)
	zonedRe = regexp.MustCompile(`(?:[Zz]|[+-]\d{2}:?\d{2})$`)
)

// Zoned layouts tried in order. Fractional seconds are accepted by time.Parse
// after the seconds field even when the layout omits them.
var zonedLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
}

// Normalizer renders zoned timestamps in a fixed business location.
type Normalizer struct {
	loc *time.Location
}

// New returns a Normalizer for loc. A nil loc means time.Local.
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{loc: loc}
}

// Location returns the reference location.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize converts raw into "YYYY-MM-DD HH:MM:SS". date ("YYYY-MM-DD") is
// only consulted for bare "HH:MM" tokens. The second result is false when raw
// cannot be interpreted; the string is then empty.
func (n *Normalizer) Normalize(raw, date string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	if m := bareRe.FindStringSubmatch(raw); m != nil {
		if !ValidDate(date) {
			return "", false
		}
		sec := m[3]
		if sec == "" {
			sec = "00"
		}
		return naive(date, m[1], m[2], sec)
	}

	// Local-naive strings are padded textually and never go through a
	// zone-aware parser, which would shift the wall-clock hour.
	if m := naiveRe.FindStringSubmatch(raw); m != nil {
		sec := m[6]
		if sec == "" {
			sec = "00"
		}
		return naive(m[1]+"-"+m[2]+"-"+m[3], m[4], m[5], sec)
	}

	if zonedRe.MatchString(raw) {
		s := strings.Replace(raw, " ", "T", 1)
		for _, layout := range zonedLayouts {
			t, err := time.Parse(layout, s)
			if err == nil {
				return t.In(n.loc).Format(Layout), true
			}
		}
	}

	return "", false
}

// MustNormalize is Normalize for inputs known to be valid; it panics otherwise.
func (n *Normalizer) MustNormalize(raw, date string) string {
	s, ok := n.Normalize(raw, date)
	if !ok {
		panic(fmt.Sprintf("timefmt: cannot normalize %q", raw))
	}
	return s
}

// ToZoned renders a canonical timestamp as RFC3339 in the reference location.
func (n *Normalizer) ToZoned(canonical string) (string, bool) {
	t, ok := n.Instant(canonical)
	if !ok {
		return "", false
	}
	return t.Format(time.RFC3339), true
}

// Instant interprets a canonical timestamp as wall-clock time in the
// reference location.
func (n *Normalizer) Instant(canonical string) (time.Time, bool) {
	t, err := time.ParseInLocation(Layout, canonical, n.loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsFuture reports whether canonical is strictly after now.
func (n *Normalizer) IsFuture(canonical string, now time.Time) bool {
	t, ok := n.Instant(canonical)
	if !ok {
		return false
	}
	return t.After(now)
}

// Today returns the calendar day of now in the reference location.
func (n *Normalizer) Today(now time.Time) string {
	return now.In(n.loc).Format(DateLayout)
}

// ValidDate reports whether s is a real "YYYY-MM-DD" day.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// DateOf returns the "YYYY-MM-DD" part of a canonical timestamp.
func DateOf(canonical string) string {
	if len(canonical) < len(DateLayout) {
		return ""
	}
	return canonical[:len(DateLayout)]
}

// Clock returns the "HH:MM" part of a canonical timestamp.
func Clock(canonical string) string {
	if len(canonical) != len(Layout) {
		return ""
	}
	return canonical[11:16]
}

// AddMinutes shifts a canonical timestamp by wall-clock minutes.
func AddMinutes(canonical string, minutes int) (string, bool) {
	t, err := time.Parse(Layout, canonical)
	if err != nil {
		return "", false
	}
	return t.Add(time.Duration(minutes) * time.Minute).Format(Layout), true
}

// AddDays shifts a canonical timestamp by whole calendar days keeping the
// time of day.
func AddDays(canonical string, days int) (string, bool) {
	t, err := time.Parse(Layout, canonical)
	if err != nil {
		return "", false
	}
	return t.AddDate(0, 0, days).Format(Layout), true
}

// naive assembles and validates a canonical string from its textual fields.
// time.Parse in UTC is only used as a range check.
func naive(date, hour, minute, second string) (string, bool) {
	if len(hour) == 1 {
		hour = "0" + hour
	}
	s := date + " " + hour + ":" + minute + ":" + second
	if _, err := time.Parse(Layout, s); err != nil {
		return "", false
	}
	return s, true
}
