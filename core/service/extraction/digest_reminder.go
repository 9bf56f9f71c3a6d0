package extraction

import (
	"regexp"
	"strings"

	"digest_server/core/domain"
	"digest_server/core/service/temporal"
)

var (
	reminderCueRe     = regexp.MustCompile(`(?i)\b(?:time to|don'?t forget to|remember to|schedule your|renew your)\s+([a-z][^.!?\n]{2,60})`)
	reminderSubjectRe = regexp.MustCompile(`(?i)^reminder[:\s-]+(.+)$`)
)

type reminderExtractor struct {
	parser *temporal.Parser
}

func (r *reminderExtractor) name() string { return "reminder" }

func (r *reminderExtractor) extract(email *domain.ParsedEmail) *domain.Entity {
	var action string

	if m := reminderCueRe.FindStringSubmatch(email.Subject + "\n" + email.Snippet + "\n" + email.Body()); m != nil {
		action = strings.TrimSpace(m[1])
	} else if m := reminderSubjectRe.FindStringSubmatch(strings.TrimSpace(email.Subject)); m != nil {
		action = strings.TrimSpace(m[1])
	}
	if action == "" {
		return nil
	}

	details := &domain.ReminderDetails{Action: action}

	entity := baseEntity(domain.EntityReminder, email, 0.7)
	entity.Reminder = details

	// A reminder may carry its own schedule ("time to renew by Dec 1").
	if day, ok := r.parser.ParseDate(action, email.ReceivedAt); ok {
		due := day.Add(endOfDay)
		details.DueTime = &due
		entity.TemporalStart = &due
	}

	return entity
}
