package classification

import (
	"context"
	"fmt"
	"time"

	"digest_server/core/domain"
	"digest_server/core/port/out"
	"digest_server/pkg/metrics"
	"digest_server/pkg/telemetry"

	"github.com/rs/zerolog"
)

// Confidence assigned to axes a user rule does not decide.
const ruleAxisConfidence = 0.5

// LearningSink receives learning events for asynchronous consumption.
// Submit must not block.
type LearningSink interface {
	Submit(event *domain.LearningEvent)
}

// Cascade runs the three classification stages in order:
//
//	1. type mapper  (deterministic sender/subject/body match, type only)
//	2. rules engine (learned user rules, full short-circuit)
//	3. LLM          (all four axes)
//
// A type-mapper hit fixes type and skips the rules stage, but the LLM is
// still consulted for importance, attention, and relationship. A rule hit
// answers without any model call. Every outcome is logged to the
// confidence table and, for confident model decisions, fed back to the
// learning loop.
type Cascade struct {
	mapper   *TypeMapper
	rules    *RulesEngine
	llm      *LLMClassifier
	logs     out.ConfidenceRepository
	learning LearningSink
	counters *metrics.CounterSet
	log      zerolog.Logger

	learningMinConfidence float64
	now                   func() time.Time
}

// NewCascade wires the stages. mapper and learning may be nil; logs may
// not.
func NewCascade(
	mapper *TypeMapper,
	rules *RulesEngine,
	llm *LLMClassifier,
	logs out.ConfidenceRepository,
	learning LearningSink,
	counters *metrics.CounterSet,
	learningMinConfidence float64,
	log zerolog.Logger,
) *Cascade {
	if learningMinConfidence == 0 {
		learningMinConfidence = 0.85
	}
	return &Cascade{
		mapper:                mapper,
		rules:                 rules,
		llm:                   llm,
		logs:                  logs,
		learning:              learning,
		counters:              counters,
		log:                   log,
		learningMinConfidence: learningMinConfidence,
		now:                   time.Now,
	}
}

// Classify produces exactly one valid classification for the email. The
// returned error covers only the confidence-log write; the classification
// itself always succeeds via the LLM stage's fallback contract.
func (c *Cascade) Classify(ctx context.Context, userID string, email *domain.ParsedEmail) (*domain.Classification, error) {
	cls := c.classify(ctx, userID, email)

	if err := c.recordDecision(ctx, userID, email, cls); err != nil {
		c.log.Warn().Err(err).Str("message_id", email.MessageID).Msg("failed to write confidence log")
	}
	c.submitLearning(userID, email, cls)

	return cls, nil
}

func (c *Cascade) classify(ctx context.Context, userID string, email *domain.ParsedEmail) *domain.Classification {
	// Stage 1: type mapper. Fixes type; the model still decides the
	// remaining axes.
	if c.mapper != nil {
		if match := c.mapper.Match(email); match != nil {
			cls := c.llm.Classify(ctx, email)
			cls.Type = match.Type
			cls.TypeConf = match.Confidence
			cls.Decider = domain.DeciderTypeMapper
			cls.MatchedRule = match.MatchedRule
			return cls
		}
	}

	// Stage 2: learned user rules. A hit answers without a model call.
	if c.rules != nil {
		rule, err := c.rules.Classify(ctx, userID, email.Subject, email.Snippet, email.From)
		if err != nil {
			c.log.Warn().Err(err).Str("user_id", userID).Msg("rules lookup failed, continuing to llm")
		} else if rule != nil {
			return c.classificationFromRule(rule, email)
		}
	}

	// Stage 3: the model decides everything.
	return c.llm.Classify(ctx, email)
}

// classificationFromRule synthesizes a full classification from a single
// rule category. Rule categories are client labels (or raw types from
// older rules); the label function is inverted to recover (type,
// attention). Importance stays routine: temporal decay promotes entities
// on its own evidence.
func (c *Cascade) classificationFromRule(rule *domain.Rule, email *domain.ParsedEmail) *domain.Classification {
	emailType, attention := typeForRuleCategory(rule.Category)

	return &domain.Classification{
		Type:             emailType,
		TypeConf:         float64(rule.Confidence) / 100,
		Importance:       domain.ImportanceRoutine,
		ImportanceConf:   ruleAxisConfidence,
		Attention:        attention,
		AttentionConf:    float64(rule.Confidence) / 100,
		Relationship:     domain.RelationshipUnknown,
		RelationshipConf: ruleAxisConfidence,
		Decider:          domain.DeciderRule,
		Reason:           fmt.Sprintf("user rule %s:%s", rule.PatternType, rule.Pattern),
		MatchedRule:      fmt.Sprintf("%s:%s", rule.PatternType, rule.Pattern),

		ModelName:     c.llm.ModelName(),
		ModelVersion:  c.llm.ModelVersion(),
		PromptVersion: c.llm.PromptVersion(),
		SenderAddress: email.SenderAddress(),
	}
}

// typeForRuleCategory inverts the client-label function. Categories that
// already name an email type pass through.
func typeForRuleCategory(category string) (domain.EmailType, domain.Attention) {
	switch domain.ClientLabel(category) {
	case domain.LabelReceipts:
		return domain.TypeReceipt, domain.AttentionNone
	case domain.LabelMessages:
		return domain.TypeMessage, domain.AttentionNone
	case domain.LabelActionRequired:
		return domain.TypeNotification, domain.AttentionActionRequired
	case domain.LabelEverythingElse:
		return domain.TypeNotification, domain.AttentionNone
	}
	if t := domain.EmailType(category); t.Valid() {
		return t, domain.AttentionNone
	}
	return domain.TypeNotification, domain.AttentionNone
}

// recordDecision writes the audit row. The insert is idempotent on
// (message_id, model_version, prompt_version), so re-runs are safe.
func (c *Cascade) recordDecision(ctx context.Context, userID string, email *domain.ParsedEmail, cls *domain.Classification) error {
	row := &domain.ConfidenceLog{
		UserID:                userID,
		MessageID:             email.MessageID,
		Type:                  cls.Type,
		TypeConf:              cls.TypeConf,
		Importance:            cls.Importance,
		ImportanceConf:        cls.ImportanceConf,
		Attention:             cls.Attention,
		AttentionConf:         cls.AttentionConf,
		Relationship:          cls.Relationship,
		RelationshipConf:      cls.RelationshipConf,
		Decider:               cls.Decider,
		ClientLabel:           domain.ClientLabelFor(cls.Type, cls.Attention),
		ModelName:             cls.ModelName,
		ModelVersion:          cls.ModelVersion,
		PromptVersion:         cls.PromptVersion,
		NormalizedInputDigest: cls.NormalizedInputDigest,
		CreatedAt:             c.now().UTC(),
	}
	return c.logs.InsertLog(ctx, row)
}

// submitLearning feeds confident model decisions back to the rules loop.
// Type-mapper and rule hits never learn; neither do fallbacks.
func (c *Cascade) submitLearning(userID string, email *domain.ParsedEmail, cls *domain.Classification) {
	if c.learning == nil {
		return
	}
	if cls.Decider != domain.DeciderGemini || cls.TypeConf < c.learningMinConfidence {
		return
	}

	label := domain.ClientLabelFor(cls.Type, cls.Attention)
	event := &domain.LearningEvent{
		UserID:         userID,
		Sender:         email.From,
		Subject:        email.Subject,
		Snippet:        email.Snippet,
		Category:       string(label),
		Classification: *cls,
		ObservedAt:     c.now().UTC(),
	}

	c.learning.Submit(event)
	c.counters.Inc(metrics.CounterLearningEvents)
	telemetry.Emit(c.log, telemetry.EventLearningEvent).
		Str("user_id", userID).
		Str("category", string(label)).
		Float64("type_conf", cls.TypeConf).
		Msg("learning event submitted")
}
