// Package telemetry defines the structured event vocabulary emitted by the
// pipeline. Every event goes through zerolog with a stable "event" field so
// downstream sinks can filter without parsing message text.
package telemetry

import (
	"time"

	"github.com/rs/zerolog"
)

// Event names
const (
	// === LLM ===
	EventLLMCallOK          = "LLM_CALL_OK"
	EventLLMCallError       = "LLM_CALL_ERROR"
	EventLLMFallbackInvoked = "LLM_FALLBACK_INVOKED"
	EventLLMJSONRepaired    = "LLM_JSON_REPAIRED"

	// === Classification ===
	EventTypeMapperHit      = "TYPE_MAPPER_HIT"
	EventRuleHit            = "RULE_HIT"
	EventLearningEvent      = "LEARNING_EVENT"
	EventRulePromoted       = "RULE_PROMOTED"
	EventCorrectionRecorded = "CORRECTION_RECORDED"
	EventGuardrailApplied   = "GUARDRAIL_APPLIED"

	// === Extraction / temporal ===
	EventExtractInconsistent = "EXTRACT_INCONSISTENT"
	EventUnknownTimezone     = "TEMPORAL_UNKNOWN_TZ"

	// === Resilience ===
	EventCircuitOpen     = "CIRCUIT_OPEN"
	EventCircuitClose    = "CIRCUIT_CLOSE"
	EventCircuitHalfOpen = "CIRCUIT_HALF_OPEN"
	EventIdempotencyDrop = "IDEMPOTENCY_DROP"
	EventLockRetry       = "DB_LOCK_RETRY"

	// === Pipeline ===
	EventParseDrop       = "PARSE_DROP"
	EventStageLatency    = "STAGE_LATENCY"
	EventStageSummary    = "STAGE_SUMMARY"
	EventWALCheckpoint   = "WAL_CHECKPOINT"
	EventDigestGenerated = "DIGEST_GENERATED"
)

// Emit starts an info-level event with the stable event field attached.
// Callers chain their own fields and finish with Msg.
func Emit(log zerolog.Logger, event string) *zerolog.Event {
	return log.Info().Str("event", event)
}

// Warn starts a warn-level event.
func Warn(log zerolog.Logger, event string) *zerolog.Event {
	return log.Warn().Str("event", event)
}

// Error starts an error-level event.
func Error(log zerolog.Logger, event string, err error) *zerolog.Event {
	return log.Error().Str("event", event).Err(err)
}

// StageLatency emits the per-stage latency sample the coordinator records.
func StageLatency(log zerolog.Logger, stage string, d time.Duration, count int) {
	Emit(log, EventStageLatency).
		Str("stage", stage).
		Dur("latency", d).
		Int("count", count).
		Msg("stage completed")
}
