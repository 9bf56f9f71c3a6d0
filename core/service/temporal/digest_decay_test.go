package temporal

import (
	"testing"
	"time"

	"digest_server/core/domain"

	"github.com/rs/zerolog"
)

var now = time.Date(2025, 11, 13, 21, 30, 0, 0, time.UTC)

func eventEntity(start, end time.Time, stored domain.Importance) *domain.Entity {
	e := &domain.Entity{
		Kind:          domain.EntityEvent,
		Importance:    stored,
		TemporalStart: &start,
		Event:         &domain.EventDetails{Title: "Team Sync"},
	}
	if !end.IsZero() {
		e.TemporalEnd = &end
	}
	return e
}

func deadlineEntity(due time.Time, stored domain.Importance) *domain.Entity {
	return &domain.Entity{
		Kind:          domain.EntityDeadline,
		Importance:    stored,
		TemporalStart: &due,
		Deadline:      &domain.DeadlineDetails{Description: "Bill due"},
	}
}

// TestResolveEventWindows walks the decay table for events.
func TestResolveEventWindows(t *testing.T) {
	r := NewResolver(zerolog.Nop())

	tests := []struct {
		name           string
		start          time.Time
		end            time.Time
		stored         domain.Importance
		wantImportance domain.Importance
		wantReason     domain.DecayReason
		wantHidden     bool
	}{
		{
			name:           "ended over an hour ago is expired and hidden",
			start:          now.Add(-3 * time.Hour),
			end:            now.Add(-2 * time.Hour),
			stored:         domain.ImportanceTimeSensitive,
			wantImportance: domain.ImportanceRoutine,
			wantReason:     domain.DecayExpired,
			wantHidden:     true,
		},
		{
			name:           "starting within the hour is active critical",
			start:          now.Add(30 * time.Minute),
			end:            now.Add(90 * time.Minute),
			stored:         domain.ImportanceTimeSensitive,
			wantImportance: domain.ImportanceCritical,
			wantReason:     domain.DecayActive,
		},
		{
			name:           "ongoing event is active critical",
			start:          now.Add(-30 * time.Minute),
			end:            now.Add(30 * time.Minute),
			stored:         domain.ImportanceRoutine,
			wantImportance: domain.ImportanceCritical,
			wantReason:     domain.DecayActive,
		},
		{
			name:           "tomorrow is upcoming time sensitive",
			start:          now.Add(26 * time.Hour),
			end:            now.Add(27 * time.Hour),
			stored:         domain.ImportanceRoutine,
			wantImportance: domain.ImportanceTimeSensitive,
			wantReason:     domain.DecayUpcoming,
		},
		{
			name:           "upcoming preserves stored critical",
			start:          now.Add(3 * 24 * time.Hour),
			end:            now.Add(3*24*time.Hour + time.Hour),
			stored:         domain.ImportanceCritical,
			wantImportance: domain.ImportanceCritical,
			wantReason:     domain.DecayUpcoming,
		},
		{
			name:           "beyond seven days is distant routine",
			start:          now.Add(8 * 24 * time.Hour),
			end:            now.Add(8*24*time.Hour + time.Hour),
			stored:         domain.ImportanceTimeSensitive,
			wantImportance: domain.ImportanceRoutine,
			wantReason:     domain.DecayDistant,
		},
		{
			name:           "distant preserves stored critical",
			start:          now.Add(30 * 24 * time.Hour),
			end:            now.Add(30*24*time.Hour + time.Hour),
			stored:         domain.ImportanceCritical,
			wantImportance: domain.ImportanceCritical,
			wantReason:     domain.DecayDistant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := eventEntity(tt.start, tt.end, tt.stored)
			got := r.Resolve(e, now)

			if got.ResolvedImportance != tt.wantImportance {
				t.Errorf("resolved = %s, want %s", got.ResolvedImportance, tt.wantImportance)
			}
			if got.DecayReason != tt.wantReason {
				t.Errorf("reason = %s, want %s", got.DecayReason, tt.wantReason)
			}
			if got.HideInDigest != tt.wantHidden {
				t.Errorf("hidden = %v, want %v", got.HideInDigest, tt.wantHidden)
			}
			// Stored importance is never overwritten.
			if e.Importance != tt.stored {
				t.Errorf("stored importance mutated to %s", e.Importance)
			}
			if e.Temporal != got {
				t.Error("annotation not attached to entity")
			}
		})
	}
}

// TestResolveBoundaries pins the closed boundaries: exactly one hour out
// is already critical, exactly one hour past the end is already expired.
func TestResolveBoundaries(t *testing.T) {
	r := NewResolver(zerolog.Nop())

	t.Run("start minus now exactly one hour is critical", func(t *testing.T) {
		e := eventEntity(now.Add(time.Hour), now.Add(2*time.Hour), domain.ImportanceRoutine)
		got := r.Resolve(e, now)
		if got.ResolvedImportance != domain.ImportanceCritical || got.DecayReason != domain.DecayActive {
			t.Errorf("got %s/%s, want critical/temporal_active", got.ResolvedImportance, got.DecayReason)
		}
	})

	t.Run("end minus now exactly minus one hour is expired", func(t *testing.T) {
		e := eventEntity(now.Add(-2*time.Hour), now.Add(-time.Hour), domain.ImportanceCritical)
		got := r.Resolve(e, now)
		if got.ResolvedImportance != domain.ImportanceRoutine || !got.HideInDigest {
			t.Errorf("got %s hidden=%v, want routine hidden", got.ResolvedImportance, got.HideInDigest)
		}
		if got.DecayReason != domain.DecayExpired {
			t.Errorf("reason = %s, want temporal_expired", got.DecayReason)
		}
	})

	t.Run("seven days out exactly is still upcoming", func(t *testing.T) {
		e := eventEntity(now.Add(7*24*time.Hour), now.Add(7*24*time.Hour+time.Hour), domain.ImportanceRoutine)
		got := r.Resolve(e, now)
		if got.DecayReason != domain.DecayUpcoming {
			t.Errorf("reason = %s, want temporal_upcoming", got.DecayReason)
		}
	})
}

// TestResolveDeadlines covers the deadline-specific imminence and expiry
// fallbacks.
func TestResolveDeadlines(t *testing.T) {
	r := NewResolver(zerolog.Nop())

	tests := []struct {
		name           string
		due            time.Time
		wantImportance domain.Importance
		wantReason     domain.DecayReason
		wantHidden     bool
	}{
		{
			name:           "due in twenty minutes is imminent",
			due:            now.Add(20 * time.Minute),
			wantImportance: domain.ImportanceCritical,
			wantReason:     domain.DecayActive,
		},
		{
			name:           "due in exactly thirty minutes is imminent",
			due:            now.Add(30 * time.Minute),
			wantImportance: domain.ImportanceCritical,
			wantReason:     domain.DecayActive,
		},
		{
			name:           "due in forty minutes is upcoming",
			due:            now.Add(40 * time.Minute),
			wantImportance: domain.ImportanceTimeSensitive,
			wantReason:     domain.DecayUpcoming,
		},
		{
			name:           "just past due stays active",
			due:            now.Add(-30 * time.Minute),
			wantImportance: domain.ImportanceCritical,
			wantReason:     domain.DecayActive,
		},
		{
			name:           "two hours past due is expired",
			due:            now.Add(-2 * time.Hour),
			wantImportance: domain.ImportanceRoutine,
			wantReason:     domain.DecayExpired,
			wantHidden:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := deadlineEntity(tt.due, domain.ImportanceTimeSensitive)
			got := r.Resolve(e, now)

			if got.ResolvedImportance != tt.wantImportance {
				t.Errorf("resolved = %s, want %s", got.ResolvedImportance, tt.wantImportance)
			}
			if got.DecayReason != tt.wantReason {
				t.Errorf("reason = %s, want %s", got.DecayReason, tt.wantReason)
			}
			if got.HideInDigest != tt.wantHidden {
				t.Errorf("hidden = %v, want %v", got.HideInDigest, tt.wantHidden)
			}
		})
	}
}

func TestResolveNoTemporalData(t *testing.T) {
	r := NewResolver(zerolog.Nop())

	for _, stored := range []domain.Importance{
		domain.ImportanceCritical,
		domain.ImportanceTimeSensitive,
		domain.ImportanceRoutine,
	} {
		e := &domain.Entity{
			Kind:         domain.EntityNotification,
			Importance:   stored,
			Notification: &domain.NotificationDetails{Category: domain.NotificationGeneral},
		}
		got := r.Resolve(e, now)

		if got.ResolvedImportance != stored {
			t.Errorf("resolved = %s, want stored %s", got.ResolvedImportance, stored)
		}
		if got.DecayReason != domain.DecayNoData {
			t.Errorf("reason = %s, want no_temporal_data", got.DecayReason)
		}
		if got.HideInDigest {
			t.Error("entity without temporal data must stay visible")
		}
	}
}

// TestHiddenImpliesExpired checks the invariant over a sweep of offsets:
// whenever an entity is hidden, the reason is temporal_expired.
func TestHiddenImpliesExpired(t *testing.T) {
	r := NewResolver(zerolog.Nop())

	for offset := -14 * 24 * time.Hour; offset <= 14*24*time.Hour; offset += 3 * time.Hour {
		start := now.Add(offset)
		end := start.Add(time.Hour)
		e := eventEntity(start, end, domain.ImportanceTimeSensitive)
		got := r.Resolve(e, now)

		if !got.ResolvedImportance.Valid() {
			t.Fatalf("offset %v: invalid importance %q", offset, got.ResolvedImportance)
		}
		if got.HideInDigest && got.DecayReason != domain.DecayExpired {
			t.Fatalf("offset %v: hidden with reason %s", offset, got.DecayReason)
		}
	}
}
