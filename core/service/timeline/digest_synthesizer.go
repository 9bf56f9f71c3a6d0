// Package timeline turns a classified batch into the sectioned digest.
// Synthesis is a pure function of its inputs: the same batch, now, and
// catalog produce byte-identical output regardless of input order.
package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"digest_server/core/domain"

	"github.com/rs/zerolog"
)

// ClassifiedEmail bundles one email with its cascade output. Entity is
// nil when extraction found nothing.
type ClassifiedEmail struct {
	Email          *domain.ParsedEmail
	Classification *domain.Classification
	Entity         *domain.Entity
}

// sectionRank orders the labeled sections for the final sort.
var sectionRank = map[domain.Section]int{
	domain.SectionCritical:     0,
	domain.SectionToday:        1,
	domain.SectionComingUp:     2,
	domain.SectionWorthKnowing: 3,
}

const (
	todayHorizon    = 24 * time.Hour
	comingUpHorizon = 7 * 24 * time.Hour
)

// Synthesizer assembles the digest from classified emails. It runs
// single-threaded after the parallel stages.
type Synthesizer struct {
	log zerolog.Logger
}

func NewSynthesizer(log zerolog.Logger) *Synthesizer {
	return &Synthesizer{log: log}
}

// Synthesize partitions the batch into digest items and noise. Every
// email lands in exactly one bucket: an itemized section, the
// EVERYTHING ELSE count, or the noise breakdown.
func (s *Synthesizer) Synthesize(emails []ClassifiedEmail, now time.Time) *domain.Digest {
	digest := &domain.Digest{
		GeneratedAt:    now,
		TotalEmails:    len(emails),
		SectionCounts:  make(map[domain.Section]int),
		NoiseBreakdown: make(map[domain.EmailType]int),
	}
	for _, section := range domain.LabeledSections {
		digest.SectionCounts[section] = 0
	}
	digest.SectionCounts[domain.SectionEverythingElse] = 0

	noiseThreads := make(map[domain.EmailType]map[string]struct{})

	for _, ce := range emails {
		if !itemizable(ce) {
			// No visible entity: the email is demoted to the noise
			// breakdown, grouped by type and counted per thread.
			t := noiseType(ce)
			if noiseThreads[t] == nil {
				noiseThreads[t] = make(map[string]struct{})
			}
			noiseThreads[t][threadKey(ce)] = struct{}{}
			digest.SectionCounts[domain.SectionEverythingElse]++
			continue
		}

		section := s.section(ce, now)
		if section == domain.SectionEverythingElse {
			digest.SectionCounts[section]++
			continue
		}

		entity := ce.Entity
		digest.Items = append(digest.Items, domain.DigestItem{
			Section:       section,
			Priority:      domain.PriorityBase(entity.ResolvedImportance()) * entity.Confidence,
			Title:         entity.Title(),
			Snippet:       entity.SourceSnippet,
			SourceEmailID: entity.SourceEmailID,
			ThreadLink:    domain.GmailThreadLink(entity.SourceThreadID),
			Timestamp:     entity.Timestamp,
		})
		digest.SectionCounts[section]++
	}

	sort.Slice(digest.Items, func(i, j int) bool {
		a, b := digest.Items[i], digest.Items[j]
		if sectionRank[a.Section] != sectionRank[b.Section] {
			return sectionRank[a.Section] < sectionRank[b.Section]
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.SourceEmailID < b.SourceEmailID
	})

	for t, threads := range noiseThreads {
		digest.NoiseBreakdown[t] = len(threads)
	}

	digest.Summary = s.summary(digest)

	s.log.Debug().
		Int("total", digest.TotalEmails).
		Int("items", len(digest.Items)).
		Int("noise_types", len(digest.NoiseBreakdown)).
		Msg("digest synthesized")
	return digest
}

// itemizable reports whether the email is represented by a visible
// entity. Extraction is the admission gate: no entity, no item.
func itemizable(ce ClassifiedEmail) bool {
	if ce.Entity == nil {
		return false
	}
	if ce.Entity.Temporal != nil && ce.Entity.Temporal.HideInDigest {
		return false
	}
	return true
}

// section assigns one featured entity to its digest section. Temporal
// placement beats plain criticality: a critical event within 24h reads
// better under TODAY than under CRITICAL.
func (s *Synthesizer) section(ce ClassifiedEmail, now time.Time) domain.Section {
	entity := ce.Entity
	resolved := entity.ResolvedImportance()

	if notificationCategory(entity) == domain.NotificationFraudAlert {
		return domain.SectionCritical
	}
	if entity.Kind == domain.EntityDeadline && resolved == domain.ImportanceCritical {
		return domain.SectionCritical
	}
	if shipStatus(entity) == domain.ShipStatusOutForDelivery {
		return domain.SectionToday
	}

	if start := entity.TemporalStart; start != nil && resolved != domain.ImportanceRoutine {
		until := start.Sub(now)
		if until <= todayHorizon {
			return domain.SectionToday
		}
		if until <= comingUpHorizon {
			return domain.SectionComingUp
		}
	}

	switch resolved {
	case domain.ImportanceCritical:
		return domain.SectionCritical
	case domain.ImportanceTimeSensitive:
		return domain.SectionWorthKnowing
	}

	if worthKnowing(entity) {
		return domain.SectionWorthKnowing
	}
	return domain.SectionEverythingElse
}

// worthKnowing selects the routine entities still worth a line: flight
// confirmations, shipping updates, bills, reservations, and plain
// account notices.
func worthKnowing(entity *domain.Entity) bool {
	if entity.Kind == domain.EntityFlight {
		return true
	}
	switch notificationCategory(entity) {
	case domain.NotificationDelivery, domain.NotificationBill,
		domain.NotificationReservation, domain.NotificationGeneral:
		return true
	}
	return false
}

func notificationCategory(entity *domain.Entity) domain.NotificationCategory {
	if entity.Kind == domain.EntityNotification && entity.Notification != nil {
		return entity.Notification.Category
	}
	return ""
}

func shipStatus(entity *domain.Entity) string {
	if entity.Kind == domain.EntityNotification && entity.Notification != nil {
		return entity.Notification.ShipStatus
	}
	return ""
}

func noiseType(ce ClassifiedEmail) domain.EmailType {
	if ce.Classification == nil || ce.Classification.Type == "" {
		return domain.TypeUncategorized
	}
	return ce.Classification.Type
}

func threadKey(ce ClassifiedEmail) string {
	if ce.Email == nil {
		return ""
	}
	if ce.Email.ThreadID != "" {
		return ce.Email.ThreadID
	}
	return ce.Email.MessageID
}

// summary builds the deterministic lead sentence. The size-adaptive
// budget is enforced as a cap; short batches simply produce short
// summaries.
func (s *Synthesizer) summary(d *domain.Digest) string {
	_, maxWords := domain.SummaryWordBudget(d.TotalEmails)

	var parts []string
	for _, section := range domain.LabeledSections {
		if n := d.SectionCounts[section]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(string(section))))
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d emails", d.TotalEmails)
	if len(parts) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(parts, ", "))
	}
	b.WriteString(".")

	if titles := topTitles(d, 3); len(titles) > 0 {
		fmt.Fprintf(&b, " Leading with %s.", strings.Join(titles, "; "))
	}

	if len(d.NoiseBreakdown) > 0 {
		types := make([]string, 0, len(d.NoiseBreakdown))
		for t := range d.NoiseBreakdown {
			types = append(types, string(t))
		}
		sort.Strings(types)
		threads := 0
		for _, t := range types {
			threads += d.NoiseBreakdown[domain.EmailType(t)]
		}
		fmt.Fprintf(&b, " %d quieter threads (%s) are summarized below.",
			threads, strings.Join(types, ", "))
	}

	return capWords(b.String(), maxWords)
}

func topTitles(d *domain.Digest, n int) []string {
	var titles []string
	for _, item := range d.Items {
		if len(titles) == n {
			break
		}
		titles = append(titles, item.Title)
	}
	return titles
}

func capWords(s string, max int) string {
	words := strings.Fields(s)
	if len(words) <= max {
		return s
	}
	return strings.Join(words[:max], " ")
}
