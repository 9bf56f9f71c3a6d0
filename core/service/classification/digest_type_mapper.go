package classification

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"digest_server/core/domain"
	"digest_server/pkg/telemetry"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Default and clamp bounds for per-type mapper confidence.
const (
	mapperDefaultConfidence = 0.95
	mapperMinConfidence     = 0.95
	mapperMaxConfidence     = 0.98
)

// MapperFile is the on-disk YAML layout of the type mapper ruleset.
type MapperFile struct {
	Version string        `yaml:"version"`
	Types   []MapperGroup `yaml:"types"`
}

// MapperGroup maps sender/subject/body/attachment patterns to one type.
type MapperGroup struct {
	Type            string   `yaml:"type"`
	Confidence      float64  `yaml:"confidence"`
	Senders         []string `yaml:"senders"`
	SubjectPatterns []string `yaml:"subject_patterns"`
	BodyPhrases     []string `yaml:"body_phrases"`
	Attachments     []string `yaml:"attachments"`
}

// TypeMatch is one deterministic mapper decision.
type TypeMatch struct {
	Type        domain.EmailType
	Confidence  float64
	MatchedRule string
}

type compiledSubject struct {
	raw string
	re  *regexp.Regexp
}

type typeGroup struct {
	emailType  domain.EmailType
	confidence float64
	senders    []string
	subjects   []compiledSubject
	phrases    []string
	exts       []string
}

// TypeMapper is the deterministic global type ruleset. Pure after
// construction: Match performs no I/O.
type TypeMapper struct {
	version string
	groups  []typeGroup
	log     zerolog.Logger
}

// LoadTypeMapper reads and compiles the ruleset from a YAML file.
func LoadTypeMapper(path string, log zerolog.Logger) (*TypeMapper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read type mapper config: %w", err)
	}

	var file MapperFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse type mapper config: %w", err)
	}

	return NewTypeMapper(&file, log), nil
}

// NewTypeMapper compiles a ruleset. Invalid regex patterns and unknown
// types are skipped with a warning; the rest of the group still applies.
func NewTypeMapper(file *MapperFile, log zerolog.Logger) *TypeMapper {
	m := &TypeMapper{version: file.Version, log: log}

	for _, g := range file.Types {
		emailType := domain.EmailType(g.Type)
		if !emailType.Valid() {
			log.Warn().Str("type", g.Type).Msg("type mapper: skipping unknown type")
			continue
		}

		confidence := g.Confidence
		if confidence == 0 {
			confidence = mapperDefaultConfidence
		}
		if confidence < mapperMinConfidence {
			confidence = mapperMinConfidence
		}
		if confidence > mapperMaxConfidence {
			confidence = mapperMaxConfidence
		}

		group := typeGroup{emailType: emailType, confidence: confidence}

		for _, s := range g.Senders {
			group.senders = append(group.senders, strings.ToLower(strings.TrimSpace(s)))
		}
		for _, p := range g.SubjectPatterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				log.Warn().Str("type", g.Type).Str("pattern", p).Err(err).
					Msg("type mapper: skipping invalid subject regex")
				continue
			}
			group.subjects = append(group.subjects, compiledSubject{raw: p, re: re})
		}
		for _, p := range g.BodyPhrases {
			group.phrases = append(group.phrases, strings.ToLower(p))
		}
		for _, e := range g.Attachments {
			ext := strings.ToLower(strings.TrimSpace(e))
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			group.exts = append(group.exts, ext)
		}

		m.groups = append(m.groups, group)
	}

	return m
}

// Version returns the ruleset version string.
func (m *TypeMapper) Version() string {
	return m.version
}

// Match runs the email through the ruleset. Order inside each group:
// sender → subject regex → body phrase → attachment. First match wins
// across groups in declared order. Returns nil when nothing matches.
func (m *TypeMapper) Match(email *domain.ParsedEmail) *TypeMatch {
	sender := email.SenderAddress()
	subject := email.Subject
	body := strings.ToLower(email.Body())
	snippet := strings.ToLower(email.Snippet)

	for _, g := range m.groups {
		if rule := g.match(sender, subject, body, snippet, email.Attachments); rule != "" {
			match := &TypeMatch{Type: g.emailType, Confidence: g.confidence, MatchedRule: rule}
			telemetry.Emit(m.log, telemetry.EventTypeMapperHit).
				Str("message_id", email.MessageID).
				Str("type", string(g.emailType)).
				Str("matched_rule", rule).
				Msg("type mapper match")
			return match
		}
	}

	return nil
}

func (g *typeGroup) match(sender, subject, body, snippet string, attachments []string) string {
	for _, p := range g.senders {
		if matchSender(sender, p) {
			return fmt.Sprintf("%s/sender:%s", g.emailType, p)
		}
	}
	for _, s := range g.subjects {
		if s.re.MatchString(subject) {
			return fmt.Sprintf("%s/subject:%s", g.emailType, s.raw)
		}
	}
	for _, phrase := range g.phrases {
		if strings.Contains(body, phrase) || strings.Contains(snippet, phrase) {
			return fmt.Sprintf("%s/body:%s", g.emailType, phrase)
		}
	}
	for _, ext := range g.exts {
		for _, name := range attachments {
			if strings.HasSuffix(strings.ToLower(name), ext) {
				return fmt.Sprintf("%s/attachment:%s", g.emailType, ext)
			}
		}
	}
	return ""
}

// matchSender matches an address against an exact pattern or a `*@domain`
// wildcard.
func matchSender(sender, pattern string) bool {
	if strings.HasPrefix(pattern, "*@") {
		return strings.HasSuffix(sender, pattern[1:])
	}
	return sender == pattern
}
