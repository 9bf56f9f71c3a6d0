package classification

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"digest_server/core/domain"
	"digest_server/pkg/metrics"
	"digest_server/pkg/telemetry"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// GuardrailAction orders the policy actions by precedence. When several
// rules match one email, never_surface wins over force_critical, which
// wins over force_non_critical.
type GuardrailAction string

const (
	GuardrailNeverSurface     GuardrailAction = "never_surface"
	GuardrailForceCritical    GuardrailAction = "force_critical"
	GuardrailForceNonCritical GuardrailAction = "force_non_critical"
)

func actionPrecedence(a GuardrailAction) int {
	switch a {
	case GuardrailNeverSurface:
		return 0
	case GuardrailForceCritical:
		return 1
	case GuardrailForceNonCritical:
		return 2
	}
	return 3
}

// GuardrailFile is the on-disk catalog shape.
type GuardrailFile struct {
	Version int             `yaml:"version"`
	Rules   []GuardrailSpec `yaml:"rules"`
}

// GuardrailSpec is one catalog entry. Criteria lists are OR within a
// field and AND across fields; an entry with no criteria is skipped.
type GuardrailSpec struct {
	Name            string   `yaml:"name"`
	Action          string   `yaml:"action"`
	Types           []string `yaml:"types,omitempty"`
	Categories      []string `yaml:"categories,omitempty"`
	Senders         []string `yaml:"senders,omitempty"`
	SubjectPrefixes []string `yaml:"subject_prefixes,omitempty"`
	SubjectPatterns []string `yaml:"subject_patterns,omitempty"`
}

type guardrailRule struct {
	name            string
	action          GuardrailAction
	types           map[domain.EmailType]bool
	categories      map[domain.NotificationCategory]bool
	senders         []string
	subjectPrefixes []string
	subjectPatterns []*regexp.Regexp
}

// Guardrails is the policy layer between the temporal decay stage and the
// synthesizer. It adjusts the effective importance the digest sees; the
// stored classification and confidence log keep the model's decision.
type Guardrails struct {
	rules    []guardrailRule
	counters *metrics.CounterSet
	log      zerolog.Logger
}

// LoadGuardrails reads a catalog from disk.
func LoadGuardrails(path string, counters *metrics.CounterSet, log zerolog.Logger) (*Guardrails, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guardrails file: %w", err)
	}
	var file GuardrailFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse guardrails file: %w", err)
	}
	return NewGuardrails(&file, counters, log)
}

// NewGuardrails compiles a catalog. Entries with unknown actions or no
// criteria are skipped with a warning; invalid regexes skip only the
// pattern.
func NewGuardrails(file *GuardrailFile, counters *metrics.CounterSet, log zerolog.Logger) (*Guardrails, error) {
	g := &Guardrails{counters: counters, log: log}

	for _, spec := range file.Rules {
		action := GuardrailAction(spec.Action)
		if actionPrecedence(action) > 2 {
			log.Warn().Str("rule", spec.Name).Str("action", spec.Action).Msg("unknown guardrail action, skipping rule")
			continue
		}

		rule := guardrailRule{name: spec.Name, action: action}

		if len(spec.Types) > 0 {
			rule.types = make(map[domain.EmailType]bool, len(spec.Types))
			for _, t := range spec.Types {
				emailType := domain.EmailType(t)
				if !emailType.Valid() {
					log.Warn().Str("rule", spec.Name).Str("type", t).Msg("unknown email type in guardrail, skipping value")
					continue
				}
				rule.types[emailType] = true
			}
		}
		if len(spec.Categories) > 0 {
			rule.categories = make(map[domain.NotificationCategory]bool, len(spec.Categories))
			for _, c := range spec.Categories {
				rule.categories[domain.NotificationCategory(c)] = true
			}
		}
		for _, s := range spec.Senders {
			rule.senders = append(rule.senders, strings.ToLower(strings.TrimSpace(s)))
		}
		for _, p := range spec.SubjectPrefixes {
			rule.subjectPrefixes = append(rule.subjectPrefixes, strings.ToLower(p))
		}
		for _, p := range spec.SubjectPatterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				log.Warn().Str("rule", spec.Name).Str("pattern", p).Err(err).Msg("invalid guardrail pattern, skipping value")
				continue
			}
			rule.subjectPatterns = append(rule.subjectPatterns, re)
		}

		if len(rule.types) == 0 && len(rule.categories) == 0 && len(rule.senders) == 0 &&
			len(rule.subjectPrefixes) == 0 && len(rule.subjectPatterns) == 0 {
			log.Warn().Str("rule", spec.Name).Msg("guardrail has no criteria, skipping rule")
			continue
		}

		g.rules = append(g.rules, rule)
	}

	// Stable precedence sort: action order first, declared order within.
	ordered := make([]guardrailRule, 0, len(g.rules))
	for precedence := 0; precedence <= 2; precedence++ {
		for _, rule := range g.rules {
			if actionPrecedence(rule.action) == precedence {
				ordered = append(ordered, rule)
			}
		}
	}
	g.rules = ordered

	log.Info().Int("rules", len(g.rules)).Msg("guardrails compiled")
	return g, nil
}

// DefaultGuardrails is the built-in catalog used when no file is
// configured.
func DefaultGuardrails(counters *metrics.CounterSet, log zerolog.Logger) *Guardrails {
	g, _ := NewGuardrails(&GuardrailFile{
		Version: 1,
		Rules: []GuardrailSpec{
			{
				Name:   "otp-never-critical",
				Action: string(GuardrailNeverSurface),
				Types:  []string{string(domain.TypeOTP)},
			},
			{
				Name:       "fraud-always-critical",
				Action:     string(GuardrailForceCritical),
				Categories: []string{string(domain.NotificationFraudAlert)},
			},
			{
				Name:            "calendar-auto-response",
				Action:          string(GuardrailForceNonCritical),
				Types:           []string{string(domain.TypeEvent)},
				SubjectPrefixes: []string{"Accepted:", "Declined:", "Tentative:", "Updated invitation:"},
			},
			{
				Name:            "urgent-bait-promotion",
				Action:          string(GuardrailForceNonCritical),
				Types:           []string{string(domain.TypePromotion)},
				SubjectPatterns: []string{`\burgent\b`, `act now`, `last chance`, `final hours`},
			},
		},
	}, counters, log)
	return g
}

// Apply finds the highest-precedence matching rule and adjusts the email
// in place. Returns the applied rule name, or "" when nothing matched.
//
// never_surface demotes only the entity's resolved importance so the item
// is never featured; the classification keeps its axes for audit.
// force_critical promotes both views to critical. force_non_critical
// demotes both to routine and clears attention, which also reroutes the
// client label.
func (g *Guardrails) Apply(email *domain.ParsedEmail, cls *domain.Classification, entity *domain.Entity) string {
	rule := g.match(email, cls, entity)
	if rule == nil {
		return ""
	}

	switch rule.action {
	case GuardrailNeverSurface:
		annotate(entity, domain.ImportanceRoutine)
	case GuardrailForceCritical:
		cls.Importance = domain.ImportanceCritical
		annotate(entity, domain.ImportanceCritical)
	case GuardrailForceNonCritical:
		cls.Importance = domain.ImportanceRoutine
		cls.Attention = domain.AttentionNone
		annotate(entity, domain.ImportanceRoutine)
	}

	g.counters.Inc(metrics.CounterGuardrailHits)
	telemetry.Emit(g.log, telemetry.EventGuardrailApplied).
		Str("message_id", email.MessageID).
		Str("rule", rule.name).
		Str("action", string(rule.action)).
		Msg("guardrail applied")
	return rule.name
}

func (g *Guardrails) match(email *domain.ParsedEmail, cls *domain.Classification, entity *domain.Entity) *guardrailRule {
	subject := strings.ToLower(email.Subject)
	sender := strings.ToLower(email.SenderAddress())

	for i := range g.rules {
		rule := &g.rules[i]
		if rule.types != nil && !rule.types[cls.Type] {
			continue
		}
		if rule.categories != nil && !matchCategory(rule.categories, entity) {
			continue
		}
		if len(rule.senders) > 0 && !matchAnySender(rule.senders, sender) {
			continue
		}
		if len(rule.subjectPrefixes) > 0 && !matchAnyPrefix(rule.subjectPrefixes, subject) {
			continue
		}
		if len(rule.subjectPatterns) > 0 && !matchAnyPattern(rule.subjectPatterns, email.Subject) {
			continue
		}
		return rule
	}
	return nil
}

// annotate forces the resolved importance the synthesizer will read. The
// stored importance on the entity is left untouched.
func annotate(entity *domain.Entity, importance domain.Importance) {
	if entity == nil {
		return
	}
	if entity.Temporal == nil {
		entity.Temporal = &domain.TemporalAnnotation{DecayReason: domain.DecayNoData}
	}
	entity.Temporal.ResolvedImportance = importance
}

func matchCategory(categories map[domain.NotificationCategory]bool, entity *domain.Entity) bool {
	if entity == nil || entity.Notification == nil {
		return false
	}
	return categories[entity.Notification.Category]
}

func matchAnySender(patterns []string, sender string) bool {
	for _, pattern := range patterns {
		if strings.HasPrefix(pattern, "*@") {
			if strings.HasSuffix(sender, pattern[1:]) {
				return true
			}
			continue
		}
		if sender == pattern {
			return true
		}
	}
	return false
}

func matchAnyPrefix(prefixes []string, subject string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(subject, prefix) {
			return true
		}
	}
	return false
}

func matchAnyPattern(patterns []*regexp.Regexp, subject string) bool {
	for _, re := range patterns {
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}
