package domain

import (
	"fmt"
	"time"
)

// EmailType represents the primary type axis of a classification
type EmailType string

const (
	// === Transactional Types ===
	TypeOTP     EmailType = "otp"     // One-time passcodes and verification codes
	TypeReceipt EmailType = "receipt" // Purchase receipts and order confirmations
	TypeEvent   EmailType = "event"   // Calendar invites and event updates

	// === Informational Types ===
	TypeNotification EmailType = "notification" // Auto-generated service notifications
	TypeNewsletter   EmailType = "newsletter"   // Newsletters and digests
	TypePromotion    EmailType = "promotion"    // Marketing and promotional

	// === Personal Types ===
	TypeMessage EmailType = "message" // Human-to-human correspondence

	// === Fallback ===
	TypeUncategorized EmailType = "uncategorized" // Could not be classified
)

// Importance represents how urgent an email is
type Importance string

const (
	ImportanceCritical      Importance = "critical"       // Needs attention now
	ImportanceTimeSensitive Importance = "time_sensitive" // Needs attention soon
	ImportanceRoutine       Importance = "routine"        // No urgency
)

// Attention represents whether the user must act
type Attention string

const (
	AttentionNone           Attention = "none"
	AttentionActionRequired Attention = "action_required"
)

// Relationship represents who the sender is to the user
type Relationship string

const (
	RelationshipKnownPerson Relationship = "from_known_person"
	RelationshipBusiness    Relationship = "from_business"
	RelationshipUnknown     Relationship = "from_unknown"
)

// Decider indicates which stage produced a classification
type Decider string

const (
	DeciderTypeMapper     Decider = "type_mapper"     // Deterministic global type rules
	DeciderRule           Decider = "rule"            // User-specific learned rule
	DeciderGemini         Decider = "gemini"          // LLM classification
	DeciderGeminiFallback Decider = "gemini_fallback" // LLM failed, safe fallback emitted
	DeciderFallback       Decider = "fallback"        // Non-LLM fallback path
)

// ClientLabel is the four-bucket folder label shown to the client
type ClientLabel string

const (
	LabelReceipts       ClientLabel = "receipts"
	LabelMessages       ClientLabel = "messages"
	LabelActionRequired ClientLabel = "action-required"
	LabelEverythingElse ClientLabel = "everything-else"
)

// ProposeRule carries the LLM's suggestion to learn a new user rule.
// ShouldPropose is a string ("true"/"false") because the model emits it as one.
type ProposeRule struct {
	ShouldPropose string `json:"should_propose"`
	PatternType   string `json:"pattern_type,omitempty"`
	Pattern       string `json:"pattern,omitempty"`
	Category      string `json:"category,omitempty"`
}

// Classification is the single-point decision emitted by every classifier stage.
// Version metadata is mandatory so every historical decision stays replayable.
type Classification struct {
	Type             EmailType    `json:"type"`
	TypeConf         float64      `json:"type_conf"`
	Importance       Importance   `json:"importance"`
	ImportanceConf   float64      `json:"importance_conf"`
	Attention        Attention    `json:"attention"`
	AttentionConf    float64      `json:"attention_conf"`
	Relationship     Relationship `json:"relationship"`
	RelationshipConf float64      `json:"relationship_conf"`

	Decider Decider      `json:"decider"`
	Reason  string       `json:"reason,omitempty"`
	Propose *ProposeRule `json:"propose_rule,omitempty"`

	// Version metadata (required on every persisted decision)
	ModelName     string `json:"model_name"`
	ModelVersion  string `json:"model_version"`
	PromptVersion string `json:"prompt_version"`

	// Optional stable digest of the normalized input, for replay
	NormalizedInputDigest string `json:"normalized_input_digest,omitempty"`

	SenderAddress string `json:"sender_address,omitempty"`
	MatchedRule   string `json:"matched_rule,omitempty"`
}

// Validate checks the closed enum sets, confidence ranges, and required
// version metadata. A failing classification must never be persisted.
func (c *Classification) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("invalid type: %q", c.Type)
	}
	if !c.Importance.Valid() {
		return fmt.Errorf("invalid importance: %q", c.Importance)
	}
	if !c.Attention.Valid() {
		return fmt.Errorf("invalid attention: %q", c.Attention)
	}
	if !c.Relationship.Valid() {
		return fmt.Errorf("invalid relationship: %q", c.Relationship)
	}
	if !c.Decider.Valid() {
		return fmt.Errorf("invalid decider: %q", c.Decider)
	}
	for _, conf := range []struct {
		name string
		v    float64
	}{
		{"type_conf", c.TypeConf},
		{"importance_conf", c.ImportanceConf},
		{"attention_conf", c.AttentionConf},
		{"relationship_conf", c.RelationshipConf},
	} {
		if conf.v < 0 || conf.v > 1 {
			return fmt.Errorf("%s out of range: %v", conf.name, conf.v)
		}
	}
	if c.ModelName == "" || c.ModelVersion == "" || c.PromptVersion == "" {
		return fmt.Errorf("missing version metadata (model_name=%q model_version=%q prompt_version=%q)",
			c.ModelName, c.ModelVersion, c.PromptVersion)
	}
	return nil
}

// ClientLabelFor computes the four-bucket label. Closed function of
// (type, attention): the same pair always yields the same label.
func ClientLabelFor(t EmailType, a Attention) ClientLabel {
	switch {
	case t == TypeReceipt:
		return LabelReceipts
	case t == TypeMessage:
		return LabelMessages
	case t == TypeOTP:
		return LabelEverythingElse
	case a == AttentionActionRequired:
		return LabelActionRequired
	default:
		return LabelEverythingElse
	}
}

func (t EmailType) Valid() bool {
	switch t {
	case TypeOTP, TypeNotification, TypeReceipt, TypeEvent,
		TypePromotion, TypeNewsletter, TypeMessage, TypeUncategorized:
		return true
	}
	return false
}

func (i Importance) Valid() bool {
	switch i {
	case ImportanceCritical, ImportanceTimeSensitive, ImportanceRoutine:
		return true
	}
	return false
}

func (a Attention) Valid() bool {
	switch a {
	case AttentionNone, AttentionActionRequired:
		return true
	}
	return false
}

func (r Relationship) Valid() bool {
	switch r {
	case RelationshipKnownPerson, RelationshipBusiness, RelationshipUnknown:
		return true
	}
	return false
}

func (d Decider) Valid() bool {
	switch d {
	case DeciderTypeMapper, DeciderRule, DeciderGemini, DeciderGeminiFallback, DeciderFallback:
		return true
	}
	return false
}

// ConfidenceLog is one audit row per classification decision.
type ConfidenceLog struct {
	ID               int64        `json:"id"`
	UserID           string       `json:"user_id"`
	MessageID        string       `json:"message_id"`
	Type             EmailType    `json:"type"`
	TypeConf         float64      `json:"type_conf"`
	Importance       Importance   `json:"importance"`
	ImportanceConf   float64      `json:"importance_conf"`
	Attention        Attention    `json:"attention"`
	AttentionConf    float64      `json:"attention_conf"`
	Relationship     Relationship `json:"relationship"`
	RelationshipConf float64      `json:"relationship_conf"`
	Decider          Decider      `json:"decider"`
	ClientLabel      ClientLabel  `json:"client_label"`
	ModelName        string       `json:"model_name"`
	ModelVersion     string       `json:"model_version"`
	PromptVersion    string       `json:"prompt_version"`

	NormalizedInputDigest string `json:"normalized_input_digest,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
