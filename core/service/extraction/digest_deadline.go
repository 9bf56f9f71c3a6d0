package extraction

import (
	"regexp"
	"strings"
	"time"

	"digest_server/core/domain"
	"digest_server/core/service/temporal"
)

var (
	billContextRe = regexp.MustCompile(`(?i)\b(bill|payment|invoice|amount due|balance due|autopay)\b`)

	// Captures the due date as written: "due Nov 15", "due on Dec 1st,
	// 2025", "due by 2025-12-01".
	dueDateRe = regexp.MustCompile(`(?i)\bdue\s+(?:on\s+|by\s+)?` +
		`([a-z]{3,9}\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s*\d{4})?|\d{4}-\d{2}-\d{2})`)

	amountRe = regexp.MustCompile(`\$\d{1,3}(?:,\d{3})*(?:\.\d{2})?`)
)

// Deadlines resolve to the end of the written day so a bill stays
// actionable until midnight.
const endOfDay = 24*time.Hour - time.Second

type deadlineExtractor struct {
	parser *temporal.Parser
}

func (d *deadlineExtractor) name() string { return "deadline" }

func (d *deadlineExtractor) extract(email *domain.ParsedEmail) *domain.Entity {
	haystack := email.Subject + "\n" + email.Snippet + "\n" + email.Body()

	if !billContextRe.MatchString(haystack) {
		return nil
	}
	m := dueDateRe.FindStringSubmatch(haystack)
	if m == nil {
		return nil
	}
	written := strings.TrimSpace(m[1])

	details := &domain.DeadlineDetails{
		Description: email.Subject,
		DueDate:     written,
		Merchant:    email.SenderName(),
	}
	if amt := amountRe.FindString(haystack); amt != "" {
		details.Amount = amt
	}

	entity := baseEntity(domain.EntityDeadline, email, 0.85)
	entity.Deadline = details

	if day, ok := d.parseWritten(written, email.ReceivedAt); ok {
		due := day.Add(endOfDay)
		details.DueTime = &due
		entity.TemporalStart = &due
	}

	return entity
}

func (d *deadlineExtractor) parseWritten(written string, ref time.Time) (time.Time, bool) {
	if t, err := time.Parse("2006-01-02", written); err == nil {
		return t.UTC(), true
	}
	return d.parser.ParseDate(written, ref)
}
