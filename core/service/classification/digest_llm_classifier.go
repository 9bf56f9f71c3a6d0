package classification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"digest_server/core/domain"
	"digest_server/core/port/out"
	"digest_server/pkg/apperr"
	"digest_server/pkg/metrics"
	"digest_server/pkg/resilience"
	"digest_server/pkg/telemetry"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const classifySystemPrompt = `You are an email triage model. Classify the email on four axes and respond with JSON only.

## type (pick ONE):
- otp: One-time passcodes, verification codes
- receipt: Purchase receipts, order confirmations
- event: Calendar invites, event updates
- notification: Auto-generated service notifications
- newsletter: Newsletters and digests
- promotion: Marketing and promotional content
- message: Human-to-human correspondence
- uncategorized: Cannot tell

## importance (pick ONE):
- critical: Needs attention now (fraud alerts, expiring codes, imminent events)
- time_sensitive: Needs attention soon (upcoming deadlines, events this week)
- routine: No urgency

## attention (pick ONE):
- action_required: The user must act
- none: Informational only

## relationship (pick ONE):
- from_known_person: A person the user corresponds with
- from_business: A company or service
- from_unknown: Cannot tell

Every *_conf is your confidence in [0,1] for that axis.
Set propose_rule.should_propose to "true" only when a stable pattern (sender or subject phrase) reliably implies the classification.

Respond with this exact JSON format:
{
  "type": "type_name",
  "type_conf": 0.0-1.0,
  "importance": "importance_name",
  "importance_conf": 0.0-1.0,
  "attention": "attention_name",
  "attention_conf": 0.0-1.0,
  "relationship": "relationship_name",
  "relationship_conf": 0.0-1.0,
  "reason": "one short sentence",
  "propose_rule": {"should_propose": "true|false", "pattern_type": "sender_exact|subject_contains|keyword", "pattern": "", "category": ""}
}`

const schemaReminderHint = "\n\nReturn only the JSON object matching the schema. No prose, no code fences."

// Low confidence assigned to every axis of the safe fallback.
const fallbackConfidence = 0.2

// FewshotProvider supplies the cached few-shot block. Implementations
// refresh atomically; the returned slice is never mutated.
type FewshotProvider interface {
	FewshotExamples(limit int) []domain.FewshotExample
}

// ClassifierConfig configures the LLM classifier. Zero values fall back
// to defaults.
type ClassifierConfig struct {
	Timeout       time.Duration // per-attempt external timeout
	PromptVersion string
	ModelVersion  string // defaults to the client's model name
	FewshotLimit  int
	MaxRetries    int // transient-failure attempts per call
}

// LLMClassifier is the final cascade stage. Its contract is to always
// produce a classification: any unrecoverable failure yields the safe
// fallback instead of an error.
type LLMClassifier struct {
	client    out.LLMClient
	breaker   *resilience.InvalidJSONBreaker
	retry     resilience.RetryPolicy
	fewshot   FewshotProvider
	sanitizer *Sanitizer
	counters  *metrics.CounterSet
	log       zerolog.Logger

	timeout       time.Duration
	promptVersion string
	modelVersion  string
	fewshotLimit  int
}

// NewLLMClassifier creates the classifier. fewshot may be nil when no
// learned examples are available.
func NewLLMClassifier(client out.LLMClient, breaker *resilience.InvalidJSONBreaker, fewshot FewshotProvider, counters *metrics.CounterSet, cfg ClassifierConfig, log zerolog.Logger) *LLMClassifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	promptVersion := cfg.PromptVersion
	if promptVersion == "" {
		promptVersion = "v4"
	}
	modelVersion := cfg.ModelVersion
	if modelVersion == "" {
		modelVersion = client.ModelName()
	}
	fewshotLimit := cfg.FewshotLimit
	if fewshotLimit == 0 {
		fewshotLimit = 8
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	retry := resilience.DefaultRetryPolicy()
	retry.MaxAttempts = maxRetries
	// Timeouts raise immediately; only transient adapter failures loop.
	retry.NonRetryable = func(err error) bool {
		return !apperr.IsCode(err, apperr.CodeTransientAdapter)
	}
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		counters.Inc(metrics.CounterRetries)
		log.Warn().Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("retrying llm call")
	}

	return &LLMClassifier{
		client:        client,
		breaker:       breaker,
		retry:         retry,
		fewshot:       fewshot,
		sanitizer:     NewSanitizer(),
		counters:      counters,
		log:           log,
		timeout:       timeout,
		promptVersion: promptVersion,
		modelVersion:  modelVersion,
		fewshotLimit:  fewshotLimit,
	}
}

// PromptVersion returns the active prompt version string.
func (c *LLMClassifier) PromptVersion() string {
	return c.promptVersion
}

// ModelVersion returns the version recorded on every decision.
func (c *LLMClassifier) ModelVersion() string {
	return c.modelVersion
}

// ModelName returns the configured model identifier.
func (c *LLMClassifier) ModelName() string {
	return c.client.ModelName()
}

// Classify runs the sanitized email through the model and returns exactly
// one valid classification. Never returns nil.
func (c *LLMClassifier) Classify(ctx context.Context, email *domain.ParsedEmail) *domain.Classification {
	in := c.sanitizer.CleanInput(email.From, email.Subject, snippetOf(email))

	if c.breaker != nil && c.breaker.Tripped() {
		return c.fallbackFor(in, "circuit_breaker_tripped")
	}

	userPrompt := c.buildUserPrompt(in)

	cls, err := c.attempt(ctx, userPrompt, in)
	if err != nil {
		// One retry with a schema reminder, then the safe fallback.
		cls, err = c.attempt(ctx, userPrompt+schemaReminderHint, in)
		if err != nil {
			return c.fallbackFor(in, apperr.CodeOf(err))
		}
	}

	return cls
}

// attempt performs one model call plus extraction and validation.
func (c *LLMClassifier) attempt(ctx context.Context, userPrompt string, in CleanedInput) (*domain.Classification, error) {
	started := time.Now()

	var raw string
	err := c.retry.Execute(ctx, func() error {
		var callErr error
		raw, callErr = c.generate(ctx, userPrompt)
		return callErr
	})
	if err != nil {
		telemetry.Error(c.log, telemetry.EventLLMCallError, err).Msg("llm call failed")
		return nil, err
	}

	c.counters.Inc(metrics.CounterLLMCalls)

	jsonText, repairStep, err := ExtractJSON(raw)
	if err != nil {
		if c.breaker != nil {
			c.breaker.RecordInvalid()
		}
		return nil, apperr.JSONError("failed to extract JSON from model output", err)
	}
	if repairStep != RepairNone {
		c.counters.Inc(metrics.CounterJSONRepairs)
		telemetry.Emit(c.log, telemetry.EventLLMJSONRepaired).
			Str("repair_step", repairStep).
			Msg("model output repaired")
	}

	var cls domain.Classification
	if err := json.Unmarshal([]byte(jsonText), &cls); err != nil {
		if c.breaker != nil {
			c.breaker.RecordInvalid()
		}
		return nil, apperr.JSONError("model output does not match schema", err)
	}

	c.enrich(&cls, in)

	if err := cls.Validate(); err != nil {
		if c.breaker != nil {
			c.breaker.RecordInvalid()
		}
		return nil, apperr.ValidationError(err.Error())
	}

	if c.breaker != nil {
		c.breaker.RecordValid()
	}
	telemetry.Emit(c.log, telemetry.EventLLMCallOK).
		Dur("latency", time.Since(started)).
		Str("type", string(cls.Type)).
		Msg("llm classification ok")
	return &cls, nil
}

// generate calls the model with the per-attempt timeout enforced here
// rather than trusting the SDK's own deadline handling.
func (c *LLMClassifier) generate(ctx context.Context, userPrompt string) (string, error) {
	type result struct {
		text string
		err  error
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		text, err := c.client.Generate(callCtx, classifySystemPrompt, userPrompt, out.GenerateOptions{})
		ch <- result{text: text, err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", apperr.TransientAdapter("llm", r.err)
		}
		return r.text, nil
	case <-timer.C:
		cancel()
		return "", apperr.Timeout("llm_call")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// buildUserPrompt assembles the few-shot block and the sanitized email.
func (c *LLMClassifier) buildUserPrompt(in CleanedInput) string {
	var b strings.Builder

	if c.fewshot != nil {
		examples := c.fewshot.FewshotExamples(c.fewshotLimit)
		if len(examples) > 0 {
			b.WriteString("## Examples:\n")
			for _, ex := range examples {
				fmt.Fprintf(&b, "From: %s | Subject: %s -> %s\n", ex.Sender, ex.Subject, ex.Classification)
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "From: %s\nSubject: %s\n\nSnippet:\n%s", in.From, in.Subject, in.Snippet)
	return b.String()
}

// enrich stamps version metadata and provenance onto a parsed response.
func (c *LLMClassifier) enrich(cls *domain.Classification, in CleanedInput) {
	cls.Decider = domain.DeciderGemini
	cls.ModelName = c.client.ModelName()
	cls.ModelVersion = c.modelVersion
	cls.PromptVersion = c.promptVersion
	cls.NormalizedInputDigest = in.Digest
	cls.SenderAddress = bareAddress(in.From)
}

// fallbackFor builds the safe fallback classification. Reason carries the
// failure kind for audit.
func (c *LLMClassifier) fallbackFor(in CleanedInput, reason string) *domain.Classification {
	c.counters.Inc(metrics.CounterLLMFallbacks)
	telemetry.Warn(c.log, telemetry.EventLLMFallbackInvoked).
		Str("reason", reason).
		Msg("llm fallback invoked")

	return &domain.Classification{
		Type:             domain.TypeUncategorized,
		TypeConf:         fallbackConfidence,
		Importance:       domain.ImportanceRoutine,
		ImportanceConf:   fallbackConfidence,
		Attention:        domain.AttentionNone,
		AttentionConf:    fallbackConfidence,
		Relationship:     domain.RelationshipUnknown,
		RelationshipConf: fallbackConfidence,
		Decider:          domain.DeciderGeminiFallback,
		Reason:           reason,
		Propose:          &domain.ProposeRule{ShouldPropose: "false"},

		ModelName:             c.client.ModelName(),
		ModelVersion:          c.modelVersion,
		PromptVersion:         c.promptVersion,
		NormalizedInputDigest: in.Digest,
		SenderAddress:         bareAddress(in.From),
	}
}

// snippetOf prefers the provider snippet, falling back to a body prefix.
func snippetOf(email *domain.ParsedEmail) string {
	if email.Snippet != "" {
		return email.Snippet
	}
	body := email.Body()
	if len(body) > MaxSnippetLen {
		return body[:MaxSnippetLen]
	}
	return body
}

// bareAddress lowercases and strips the display-name wrapper.
func bareAddress(from string) string {
	return strings.ToLower(senderAddressOf(from))
}
