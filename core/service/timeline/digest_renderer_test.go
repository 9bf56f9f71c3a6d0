package timeline

import (
	"strings"
	"testing"

	"digest_server/core/domain"

	"github.com/rs/zerolog"
)

func TestRenderTextLayout(t *testing.T) {
	s := NewSynthesizer(zerolog.Nop())
	r := NewRenderer([]domain.Category{
		{Type: domain.TypeNewsletter, DisplayName: "Newsletters"},
		{Type: domain.TypePromotion, DisplayName: "Promotions"},
	})

	fraud := notificationEntity("m1", domain.NotificationFraudAlert, 0.9)
	annotated(fraud, domain.ImportanceCritical, domain.DecayNoData, false)

	emails := []ClassifiedEmail{
		classified("m1", "t1", domain.TypeNotification, fraud),
		classified("m2", "t2", domain.TypeNewsletter, nil),
		classified("m3", "t3", domain.TypePromotion, nil),
		classified("m4", "t4", domain.TypePromotion, nil),
	}

	text := r.RenderText(s.Synthesize(emails, now))

	// Labeled sections render with counts even when empty.
	for _, want := range []string{
		"CRITICAL (1)",
		"TODAY (0)",
		"COMING UP (0)",
		"WORTH KNOWING (0)",
		"EVERYTHING ELSE (3)",
		"(nothing)",
		"1. Subject m1",
		"https://mail.google.com/mail/u/0/#all/thr-m1",
		"Promotions: 2 threads",
		"Newsletters: 1 thread",
		"4 emails processed",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}

	// Largest noise type lists first.
	if strings.Index(text, "Promotions") > strings.Index(text, "Newsletters") {
		t.Errorf("noise lines not sorted by count:\n%s", text)
	}
}

func TestRenderTextNumbersContinuously(t *testing.T) {
	s := NewSynthesizer(zerolog.Nop())
	r := NewRenderer(nil)

	fraud := notificationEntity("m1", domain.NotificationFraudAlert, 0.9)
	annotated(fraud, domain.ImportanceCritical, domain.DecayNoData, false)
	bill := notificationEntity("m2", domain.NotificationBill, 0.8)
	annotated(bill, domain.ImportanceRoutine, domain.DecayNoData, false)

	text := r.RenderText(s.Synthesize([]ClassifiedEmail{
		classified("m1", "t1", domain.TypeNotification, fraud),
		classified("m2", "t2", domain.TypeNotification, bill),
	}, now))

	// The WORTH KNOWING item continues the numbering started in CRITICAL.
	if !strings.Contains(text, "1. Subject m1") || !strings.Contains(text, "2. Subject m2") {
		t.Errorf("expected continuous numbering across sections:\n%s", text)
	}
}

func TestRenderHTMLEscapesContent(t *testing.T) {
	r := NewRenderer(nil)
	digest := &domain.Digest{
		GeneratedAt: now,
		TotalEmails: 1,
		Items: []domain.DigestItem{{
			Section:       domain.SectionCritical,
			Priority:      0.9,
			Title:         `Invoice <script>alert("x")</script>`,
			Snippet:       "a & b",
			SourceEmailID: "m1",
			ThreadLink:    domain.GmailThreadLink("t1"),
			Timestamp:     now,
		}},
		SectionCounts: map[domain.Section]int{domain.SectionCritical: 1},
	}

	html := r.RenderHTML(digest)
	if strings.Contains(html, "<script>") {
		t.Errorf("unescaped title in html:\n%s", html)
	}
	for _, want := range []string{
		"&lt;script&gt;",
		"a &amp; b",
		`<a href="https://mail.google.com/mail/u/0/#all/t1">`,
		"<h2>CRITICAL (1)</h2>",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q:\n%s", want, html)
		}
	}
}

func TestRenderHTMLPlainTextFallback(t *testing.T) {
	digest := &domain.Digest{
		GeneratedAt:   now,
		TotalEmails:   1,
		SectionCounts: map[domain.Section]int{domain.SectionEverythingElse: 1},
	}

	r := NewRenderer(nil)
	if html := r.RenderHTML(digest); strings.Contains(html, "<pre>") {
		t.Errorf("fallback block rendered without the flag:\n%s", html)
	}

	r.PlainTextFallback = true
	html := r.RenderHTML(digest)
	if !strings.Contains(html, "<pre>") || !strings.Contains(html, "INBOX DIGEST") {
		t.Errorf("expected the text rendering embedded in html:\n%s", html)
	}
}

func TestRenderDisplayNameFallback(t *testing.T) {
	r := NewRenderer(nil)
	digest := &domain.Digest{
		GeneratedAt:    now,
		TotalEmails:    1,
		SectionCounts:  map[domain.Section]int{domain.SectionEverythingElse: 1},
		NoiseBreakdown: map[domain.EmailType]int{domain.TypeReceipt: 1},
	}

	text := r.RenderText(digest)
	if !strings.Contains(text, "receipt: 1 thread") {
		t.Errorf("expected the raw type as fallback display name:\n%s", text)
	}
}
