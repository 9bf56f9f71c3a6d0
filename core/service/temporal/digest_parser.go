// Package temporal parses free-text timestamps and resolves time-based
// importance decay for extracted entities.
package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"digest_server/pkg/telemetry"

	"github.com/rs/zerolog"
)

// Timezone abbreviations seen in calendar notifications, as offsets east
// of UTC. Anything not listed resolves to UTC and is logged.
var zoneOffsets = map[string]int{
	"UTC":  0,
	"GMT":  0,
	"EST":  -5 * 3600,
	"EDT":  -4 * 3600,
	"CST":  -6 * 3600,
	"CDT":  -5 * 3600,
	"MST":  -7 * 3600,
	"MDT":  -6 * 3600,
	"PST":  -8 * 3600,
	"PDT":  -7 * 3600,
	"AKST": -9 * 3600,
	"AKDT": -8 * 3600,
	"HST":  -10 * 3600,
	"WET":  0,
	"BST":  1 * 3600,
	"CET":  1 * 3600,
	"CEST": 2 * 3600,
	"EET":  2 * 3600,
	"EEST": 3 * 3600,
	"IST":  5*3600 + 1800,
	"JST":  9 * 3600,
	"KST":  9 * 3600,
	"AEST": 10 * 3600,
	"AEDT": 11 * 3600,
	"NZST": 12 * 3600,
}

var monthsByName = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

const monthPattern = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|` +
	`jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

// Calendar phrase: optional weekday, month, day, optional year, start
// time, optional end time after a dash, optional zone in parentheses.
// Covers "Fri Nov 21, 2025 6:30pm - 7:30pm (EST)" and
// "Wed Nov 13, 2pm – 3pm (PST)".
var calendarPhraseRe = regexp.MustCompile(
	`(?i)(?:(?:mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)[a-z]*,?\s+)?` +
		monthPattern + `\.?\s+(\d{1,2})(?:,?\s*(\d{4}))?,?\s+` +
		`(\d{1,2}(?::\d{2})?\s*(?:am|pm)?)` +
		`(?:\s*[-–—]\s*(\d{1,2}(?::\d{2})?\s*(?:am|pm)?))?` +
		`(?:\s*\(([a-z]{2,5})\))?`)

// Bare date: "Nov 15", "November 15, 2025", "Nov. 15".
var calendarDateRe = regexp.MustCompile(
	`(?i)\b` + monthPattern + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s*(\d{4}))?\b`)

var clockRe = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)

// Relative durations: "in 10 minutes", "in 2 hours", "in 3 days".
var relativeRe = regexp.MustCompile(`(?i)\bin\s+(\d{1,4})\s*(minute|min|hour|hr|day)s?\b`)

var digitsOnlyRe = regexp.MustCompile(`^\d+$`)

// ISO-8601 layouts tried in order.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// RFC 2822 layouts, with and without weekday and zone name.
var rfc2822Layouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
}

// Parser turns free-text timestamps into UTC instants. All results are
// timezone-aware; unrecognized zone names resolve to UTC with a warning
// so silent shifts never happen.
type Parser struct {
	log zerolog.Logger
}

// NewParser creates a Parser.
func NewParser(log zerolog.Logger) *Parser {
	return &Parser{log: log}
}

// Parse applies the format precedence: calendar phrase, ISO-8601,
// RFC 2822, then epoch millis (int or string). ref supplies the year for
// phrases that omit one. The returned instant is always UTC.
func (p *Parser) Parse(raw string, ref time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	if start, _, ok := p.ParsePhrase(raw, ref); ok {
		return start, true
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}

	for _, layout := range rfc2822Layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return p.normalizeZone(t), true
		}
	}

	if digitsOnlyRe.MatchString(raw) {
		if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return p.FromEpoch(millis), true
		}
	}

	return time.Time{}, false
}

// FromEpoch converts an epoch value to UTC. Values small enough to be
// seconds are treated as seconds; everything else as milliseconds.
func (p *Parser) FromEpoch(v int64) time.Time {
	if v < 1e12 && v > 0 {
		return time.Unix(v, 0).UTC()
	}
	return time.UnixMilli(v).UTC()
}

// normalizeZone repairs named zones that time.Parse resolved to a bare
// offset-0 location ("EST" parsed against an "MST" layout keeps the name
// but loses the offset). Wall-clock fields are re-anchored in the real
// zone before converting to UTC.
func (p *Parser) normalizeZone(t time.Time) time.Time {
	name, offset := t.Zone()
	if offset != 0 || name == "" || name == "UTC" || name == "GMT" {
		return t.UTC()
	}
	loc := p.Location(name)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc).UTC()
}

// ParsePhrase extracts a start (and optional end) instant from an English
// calendar phrase like "Fri Nov 21, 2025 6:30pm - 7:30pm (EST)". A
// missing year is inferred from ref; a missing zone means UTC.
func (p *Parser) ParsePhrase(s string, ref time.Time) (time.Time, *time.Time, bool) {
	m := calendarPhraseRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, nil, false
	}

	month, ok := monthsByName[strings.ToLower(m[1])]
	if !ok {
		return time.Time{}, nil, false
	}
	day, err := strconv.Atoi(m[2])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, nil, false
	}

	startHour, startMin, ok := parseClock(m[4])
	if !ok {
		return time.Time{}, nil, false
	}

	loc := p.Location(m[6])
	year := inferYear(m[3], month, day, ref)

	start := time.Date(year, month, day, startHour, startMin, 0, 0, loc).UTC()

	var end *time.Time
	if m[5] != "" {
		if endHour, endMin, ok := parseClock(m[5]); ok {
			e := time.Date(year, month, day, endHour, endMin, 0, 0, loc)
			// "11pm - 1am" crosses midnight
			if e.Before(time.Date(year, month, day, startHour, startMin, 0, 0, loc)) {
				e = e.Add(24 * time.Hour)
			}
			eu := e.UTC()
			end = &eu
		}
	}

	return start, end, true
}

// ParseDate parses a bare calendar date ("Nov 15") to midnight UTC.
// A missing year is inferred from ref.
func (p *Parser) ParseDate(s string, ref time.Time) (time.Time, bool) {
	m := calendarDateRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}

	month, ok := monthsByName[strings.ToLower(m[1])]
	if !ok {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(m[2])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}

	year := inferYear(m[3], month, day, ref)
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), true
}

// ParseRelative parses "in N minutes/hours/days" against a reference
// instant. Used for "starts in 15 minutes" and "expires in 10 minutes".
func (p *Parser) ParseRelative(s string, ref time.Time) (time.Time, bool) {
	m := relativeRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}

	var unit time.Duration
	switch strings.ToLower(m[2]) {
	case "minute", "min":
		unit = time.Minute
	case "hour", "hr":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	default:
		return time.Time{}, false
	}

	return ref.Add(time.Duration(n) * unit).UTC(), true
}

// Location resolves a timezone abbreviation. Empty means UTC; unknown
// names also resolve to UTC but are surfaced as telemetry.
func (p *Parser) Location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	upper := strings.ToUpper(name)
	if offset, ok := zoneOffsets[upper]; ok {
		if offset == 0 {
			return time.UTC
		}
		return time.FixedZone(upper, offset)
	}

	telemetry.Warn(p.log, telemetry.EventUnknownTimezone).
		Str("zone", name).
		Msg("unknown timezone, defaulting to UTC")
	return time.UTC
}

// parseClock parses "6:30pm", "2pm", "14:00" into (hour, minute).
func parseClock(s string) (int, int, bool) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}

	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	minute := 0
	if m[2] != "" {
		if minute, err = strconv.Atoi(m[2]); err != nil || minute > 59 {
			return 0, 0, false
		}
	}

	switch strings.ToLower(m[3]) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	default:
		// 24h clock when no meridiem
	}
	if hour > 23 {
		return 0, 0, false
	}

	return hour, minute, true
}

// inferYear picks the year for a date phrase that omits one: the ref
// year, bumped forward when the date would land more than 60 days in the
// past. Calendar mail overwhelmingly refers to the near future.
func inferYear(explicit string, month time.Month, day int, ref time.Time) int {
	if explicit != "" {
		if y, err := strconv.Atoi(explicit); err == nil {
			return y
		}
	}

	year := ref.Year()
	candidate := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if candidate.Before(ref.AddDate(0, 0, -60)) {
		return year + 1
	}
	return year
}
