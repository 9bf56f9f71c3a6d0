package domain

import "time"

// PatternType represents how a rule pattern is matched against an email
type PatternType string

const (
	PatternSenderExact     PatternType = "sender_exact"     // Exact sender address
	PatternSubjectContains PatternType = "subject_contains" // Substring of the subject
	PatternKeyword         PatternType = "keyword"          // Keyword in subject or snippet
)

func (p PatternType) Valid() bool {
	switch p {
	case PatternSenderExact, PatternSubjectContains, PatternKeyword:
		return true
	}
	return false
}

// Rule confidence levels. Corrections are trusted more than observations.
const (
	RuleConfidenceCorrection = 95 // Inserted directly from a user correction
	RuleConfidenceLearned    = 85 // Promoted from a pending rule
)

// PromotionThreshold is the seen count at which a pending rule becomes active.
const PromotionThreshold = 2

// PendingRule is a candidate rule awaiting confirmation. Promoted into
// Rule once SeenCount reaches PromotionThreshold, then deleted. Never
// created for category "uncategorized".
type PendingRule struct {
	ID          int64       `json:"id"`
	UserID      string      `json:"user_id"`
	PatternType PatternType `json:"pattern_type"`
	Pattern     string      `json:"pattern"`
	Category    string      `json:"category"`
	SeenCount   int         `json:"seen_count"`
	LastSeen    time.Time   `json:"last_seen"`
}

// Rule is an active user-specific classification rule.
// Unique on (user_id, pattern_type, pattern, category).
type Rule struct {
	ID          int64       `json:"id"`
	UserID      string      `json:"user_id"`
	PatternType PatternType `json:"pattern_type"`
	Pattern     string      `json:"pattern"`
	Category    string      `json:"category"`
	Confidence  int         `json:"confidence"`
	UseCount    int         `json:"use_count"`
	CreatedAt   time.Time   `json:"created_at"`
}

// LearnedPattern stores a full multi-axis classification keyed by pattern,
// used to build few-shot examples. Distinct from Rule, which only carries
// a single category.
type LearnedPattern struct {
	ID                 int64       `json:"id"`
	PatternType        PatternType `json:"pattern_type"`
	PatternValue       string      `json:"pattern_value"`
	ClassificationJSON string      `json:"classification_json"`
	SupportCount       int         `json:"support_count"`
	Confidence         float64     `json:"confidence"`
	FirstSeen          time.Time   `json:"first_seen"`
	LastSeen           time.Time   `json:"last_seen"`
}

// Correction is an immutable record of a user disagreeing with a
// classification. Append-only, never mutated.
type Correction struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	MessageID      string    `json:"message_id"`
	Sender         string    `json:"sender"`
	Subject        string    `json:"subject"`
	Snippet        string    `json:"snippet,omitempty"`
	PredictedType  EmailType `json:"predicted_type"`
	ActualType     EmailType `json:"actual_type"`
	PredictedLabel string    `json:"predicted_label,omitempty"`
	ActualLabel    string    `json:"actual_label,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// LearningEvent flows one-way from the cascade to the feedback manager
// when a confident LLM decision should seed a pending rule.
type LearningEvent struct {
	UserID         string         `json:"user_id"`
	Sender         string         `json:"sender"`
	Subject        string         `json:"subject"`
	Snippet        string         `json:"snippet,omitempty"`
	Category       string         `json:"category"`
	Classification Classification `json:"classification"`
	ObservedAt     time.Time      `json:"observed_at"`
}

// FewshotExample is one example line of the LLM prompt's few-shot block.
type FewshotExample struct {
	Sender         string `json:"sender"`
	Subject        string `json:"subject"`
	Classification string `json:"classification"` // compact JSON of the expected output
	SupportCount   int    `json:"support_count"`
}

// CorrectionStats summarizes the corrections table for reporting.
type CorrectionStats struct {
	Total        int               `json:"total"`
	ByActualType map[EmailType]int `json:"by_actual_type"`
	LastAt       *time.Time        `json:"last_at,omitempty"`
}

// SenderCorrectionCount is one row of the top-corrected-senders report.
type SenderCorrectionCount struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
}
