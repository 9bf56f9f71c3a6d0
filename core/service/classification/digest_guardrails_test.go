package classification

import (
	"testing"

	"digest_server/core/domain"
	"digest_server/pkg/metrics"

	"github.com/rs/zerolog"
)

// TestGuardrailsDefaultCatalog tests the built-in policy rules end to end.
func TestGuardrailsDefaultCatalog(t *testing.T) {
	g := DefaultGuardrails(metrics.NewCounterSet(), zerolog.Nop())

	t.Run("otp is never featured as critical", func(t *testing.T) {
		email := &domain.ParsedEmail{MessageID: "m1", From: "noreply@github.com", Subject: "[GitHub] Your verification code"}
		cls := &domain.Classification{Type: domain.TypeOTP, Importance: domain.ImportanceCritical, Attention: domain.AttentionNone}
		entity := &domain.Entity{
			Kind:       domain.EntityNotification,
			Importance: domain.ImportanceCritical,
			Temporal: &domain.TemporalAnnotation{
				ResolvedImportance: domain.ImportanceCritical,
				DecayReason:        domain.DecayActive,
			},
		}

		applied := g.Apply(email, cls, entity)
		if applied != "otp-never-critical" {
			t.Fatalf("applied = %q, want otp-never-critical", applied)
		}
		if entity.Temporal.ResolvedImportance != domain.ImportanceRoutine {
			t.Errorf("resolved importance = %v, want routine", entity.Temporal.ResolvedImportance)
		}
		// The stored decision is untouched for audit.
		if cls.Importance != domain.ImportanceCritical {
			t.Errorf("classification importance = %v, want critical preserved", cls.Importance)
		}
		if entity.Importance != domain.ImportanceCritical {
			t.Errorf("stored entity importance = %v, want critical preserved", entity.Importance)
		}
	})

	t.Run("fraud alert is forced critical", func(t *testing.T) {
		email := &domain.ParsedEmail{MessageID: "m2", From: "security@bank.com", Subject: "Unusual sign-in activity detected"}
		cls := &domain.Classification{Type: domain.TypeNotification, Importance: domain.ImportanceRoutine, Attention: domain.AttentionActionRequired}
		entity := &domain.Entity{
			Kind:         domain.EntityNotification,
			Importance:   domain.ImportanceRoutine,
			Notification: &domain.NotificationDetails{Category: domain.NotificationFraudAlert},
		}

		applied := g.Apply(email, cls, entity)
		if applied != "fraud-always-critical" {
			t.Fatalf("applied = %q, want fraud-always-critical", applied)
		}
		if cls.Importance != domain.ImportanceCritical {
			t.Errorf("importance = %v, want critical", cls.Importance)
		}
		if entity.Temporal == nil || entity.Temporal.ResolvedImportance != domain.ImportanceCritical {
			t.Errorf("entity not annotated critical: %+v", entity.Temporal)
		}
	})

	t.Run("calendar auto-response is demoted", func(t *testing.T) {
		email := &domain.ParsedEmail{MessageID: "m3", From: "colleague@work.com", Subject: "Accepted: Design review @ Tue"}
		cls := &domain.Classification{Type: domain.TypeEvent, Importance: domain.ImportanceTimeSensitive, Attention: domain.AttentionActionRequired}

		applied := g.Apply(email, cls, nil)
		if applied != "calendar-auto-response" {
			t.Fatalf("applied = %q, want calendar-auto-response", applied)
		}
		if cls.Importance != domain.ImportanceRoutine {
			t.Errorf("importance = %v, want routine", cls.Importance)
		}
		if cls.Attention != domain.AttentionNone {
			t.Errorf("attention = %v, want none", cls.Attention)
		}
	})

	t.Run("urgent promo loses its action-required label", func(t *testing.T) {
		email := &domain.ParsedEmail{MessageID: "m4", From: "deals@store.com", Subject: "URGENT: Holiday Essentials"}
		cls := &domain.Classification{Type: domain.TypePromotion, Importance: domain.ImportanceTimeSensitive, Attention: domain.AttentionActionRequired}

		if before := domain.ClientLabelFor(cls.Type, cls.Attention); before != domain.LabelActionRequired {
			t.Fatalf("precondition: label = %v, want action-required", before)
		}

		applied := g.Apply(email, cls, nil)
		if applied != "urgent-bait-promotion" {
			t.Fatalf("applied = %q, want urgent-bait-promotion", applied)
		}
		if got := domain.ClientLabelFor(cls.Type, cls.Attention); got != domain.LabelEverythingElse {
			t.Errorf("label after guardrail = %v, want everything-else", got)
		}
	})

	t.Run("ordinary mail passes untouched", func(t *testing.T) {
		email := &domain.ParsedEmail{MessageID: "m5", From: "friend@gmail.com", Subject: "Dinner on Friday?"}
		cls := &domain.Classification{Type: domain.TypeMessage, Importance: domain.ImportanceRoutine, Attention: domain.AttentionNone}

		if applied := g.Apply(email, cls, nil); applied != "" {
			t.Errorf("applied = %q, want none", applied)
		}
	})
}

// TestGuardrailsPrecedence tests that never_surface outranks force rules
// when several match the same email.
func TestGuardrailsPrecedence(t *testing.T) {
	g, err := NewGuardrails(&GuardrailFile{
		Version: 1,
		Rules: []GuardrailSpec{
			{Name: "force-up", Action: "force_critical", Types: []string{"otp"}},
			{Name: "hide", Action: "never_surface", Types: []string{"otp"}},
		},
	}, metrics.NewCounterSet(), zerolog.Nop())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	email := &domain.ParsedEmail{MessageID: "m1", From: "a@b.com", Subject: "code"}
	cls := &domain.Classification{Type: domain.TypeOTP, Importance: domain.ImportanceCritical}
	entity := &domain.Entity{Kind: domain.EntityNotification}

	if applied := g.Apply(email, cls, entity); applied != "hide" {
		t.Fatalf("applied = %q, want hide despite declaration order", applied)
	}
	if entity.Temporal == nil || entity.Temporal.ResolvedImportance != domain.ImportanceRoutine {
		t.Errorf("entity should resolve routine, got %+v", entity.Temporal)
	}
}

// TestGuardrailsCompile tests skip behavior for broken catalog entries.
func TestGuardrailsCompile(t *testing.T) {
	g, err := NewGuardrails(&GuardrailFile{
		Version: 1,
		Rules: []GuardrailSpec{
			{Name: "bad-action", Action: "delete_everything", Types: []string{"otp"}},
			{Name: "no-criteria", Action: "force_critical"},
			{Name: "bad-regex", Action: "force_critical", SubjectPatterns: []string{`([`}},
			{Name: "good", Action: "force_critical", Senders: []string{"Alerts@Bank.com"}},
		},
	}, metrics.NewCounterSet(), zerolog.Nop())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(g.rules) != 1 {
		t.Fatalf("compiled rules = %d, want 1", len(g.rules))
	}

	// Sender matching is case-insensitive.
	email := &domain.ParsedEmail{MessageID: "m1", From: "alerts@bank.com", Subject: "hello"}
	cls := &domain.Classification{Type: domain.TypeNotification, Importance: domain.ImportanceRoutine}
	if applied := g.Apply(email, cls, nil); applied != "good" {
		t.Errorf("applied = %q, want good", applied)
	}
}
