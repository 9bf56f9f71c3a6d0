package extraction

import (
	"regexp"
	"strings"
	"time"

	"digest_server/core/domain"
	"digest_server/core/service/temporal"
)

// Calendar subject prefixes. "Notification:" alone is ambiguous and
// requires a second calendar signal; the others are calendar-only.
var calendarOnlyPrefixes = []string{
	"invitation:",
	"updated invitation:",
	"accepted:",
	"declined:",
	"tentative:",
	"canceled:",
	"cancelled:",
}

const notificationPrefix = "notification:"

var (
	calendarSenderRe = regexp.MustCompile(`(?i)calendar-[a-z]*@google\.com`)
	calendarBodyRe   = regexp.MustCompile(`(?i)\bcalendar event\b`)
	startsInRe       = regexp.MustCompile(`(?i)\bstarts in\b`)
	declaredZoneRe   = regexp.MustCompile(`\(([A-Za-z]{2,5})\)\s*$`)
	whereLineRe      = regexp.MustCompile(`(?im)^(?:where|location):\s*(.+)$`)
	atPlaceRe        = regexp.MustCompile(`\bat ([A-Z][A-Za-z'. ]{2,40}?)(?:\s*[,.(]|$)`)
)

type eventExtractor struct {
	parser *temporal.Parser
}

func (e *eventExtractor) name() string { return "event" }

func (e *eventExtractor) extract(email *domain.ParsedEmail) *domain.Entity {
	subject := strings.TrimSpace(email.Subject)
	lower := strings.ToLower(subject)

	text := searchText(email)
	prefix := matchedPrefix(lower)
	if prefix == notificationPrefix && !e.hasCalendarSignal(email, subject) {
		return nil
	}
	if prefix == "" && !strings.Contains(subject, "@") && !startsInRe.MatchString(text) {
		return nil
	}

	title := subject
	if prefix != "" {
		title = strings.TrimSpace(subject[len(prefix):])
	}

	details := &domain.EventDetails{}
	confidence := 0.8
	if prefix != "" {
		confidence = 0.95
	}

	var start *time.Time
	var end *time.Time

	// "Team Sync @ Wed Nov 13, 2pm - 3pm (PST)"
	if i := strings.LastIndex(title, "@"); i >= 0 {
		phrase := strings.TrimSpace(title[i+1:])
		if s, eEnd, ok := e.parser.ParsePhrase(phrase, email.ReceivedAt); ok {
			start, end = &s, eEnd
			if m := declaredZoneRe.FindStringSubmatch(phrase); m != nil {
				details.Timezone = strings.ToUpper(m[1])
			}
			title = strings.TrimSpace(title[:i])
		}
	}

	if start == nil {
		if m := startsInRe.FindStringIndex(text); m != nil {
			window := text[m[0]:]
			if len(window) > 48 {
				window = window[:48]
			}
			if s, ok := e.parser.ParseRelative(window, email.ReceivedAt); ok {
				start = &s
			}
		}
	}

	if start == nil && prefix == "" {
		// A bare "@" with no parseable time is not an event.
		return nil
	}

	details.Title = title
	details.StartTime = start
	details.EndTime = end
	details.Location = e.location(email, title)

	entity := baseEntity(domain.EntityEvent, email, confidence)
	entity.Event = details
	entity.TemporalStart = start
	entity.TemporalEnd = end
	return entity
}

func (e *eventExtractor) hasCalendarSignal(email *domain.ParsedEmail, subject string) bool {
	if calendarSenderRe.MatchString(email.From) {
		return true
	}
	if calendarBodyRe.MatchString(email.Body()) || calendarBodyRe.MatchString(email.Snippet) {
		return true
	}
	// A parseable "@ <date> <time>" phrase is itself a calendar signal.
	if i := strings.LastIndex(subject, "@"); i >= 0 {
		if _, _, ok := e.parser.ParsePhrase(subject[i+1:], email.ReceivedAt); ok {
			return true
		}
	}
	return false
}

func (e *eventExtractor) location(email *domain.ParsedEmail, title string) string {
	if m := whereLineRe.FindStringSubmatch(email.Body()); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := atPlaceRe.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func matchedPrefix(lowerSubject string) string {
	for _, p := range calendarOnlyPrefixes {
		if strings.HasPrefix(lowerSubject, p) {
			return p
		}
	}
	if strings.HasPrefix(lowerSubject, notificationPrefix) {
		return notificationPrefix
	}
	return ""
}
