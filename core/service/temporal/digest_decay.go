package temporal

import (
	"time"

	"digest_server/core/domain"

	"github.com/rs/zerolog"
)

// Decay windows. Events become critical one hour before they start;
// deadlines thirty minutes before they are due. An entity is expired,
// and hidden, one hour after its end. Deadlines without an explicit end
// fall back to start plus one hour.
const (
	eventImminence      = time.Hour
	deadlineImminence   = 30 * time.Minute
	deadlineEndFallback = time.Hour
	expiryGrace         = time.Hour
	upcomingHorizon     = 7 * 24 * time.Hour
)

// Resolver applies temporal decay to extracted entities. The stored
// importance on the entity is never overwritten; the resolution lives in
// the annotation so every decision stays auditable.
type Resolver struct {
	log zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(log zerolog.Logger) *Resolver {
	return &Resolver{log: log}
}

// Resolve computes the temporal annotation for one entity at the given
// instant and attaches it. Entities without temporal data pass through
// unchanged and visible.
//
// Boundaries are closed toward urgency: start exactly one hour away is
// already critical, and an end exactly one hour past is already expired.
func (r *Resolver) Resolve(e *domain.Entity, now time.Time) *domain.TemporalAnnotation {
	annotation := r.resolve(e, now.UTC())
	e.Temporal = annotation
	return annotation
}

func (r *Resolver) resolve(e *domain.Entity, now time.Time) *domain.TemporalAnnotation {
	if e.TemporalStart == nil {
		return &domain.TemporalAnnotation{
			ResolvedImportance: e.Importance,
			DecayReason:        domain.DecayNoData,
			HideInDigest:       false,
		}
	}

	start := e.TemporalStart.UTC()

	imminence := eventImminence
	end := start
	if e.TemporalEnd != nil {
		end = e.TemporalEnd.UTC()
	} else if e.Kind == domain.EntityDeadline {
		end = start.Add(deadlineEndFallback)
	}
	if e.Kind == domain.EntityDeadline {
		imminence = deadlineImminence
	}

	switch {
	case !end.After(now.Add(-expiryGrace)):
		return &domain.TemporalAnnotation{
			ResolvedImportance: domain.ImportanceRoutine,
			DecayReason:        domain.DecayExpired,
			HideInDigest:       true,
		}

	case !start.After(now.Add(imminence)):
		return &domain.TemporalAnnotation{
			ResolvedImportance: domain.ImportanceCritical,
			DecayReason:        domain.DecayActive,
			HideInDigest:       false,
		}

	case !start.After(now.Add(upcomingHorizon)):
		return &domain.TemporalAnnotation{
			ResolvedImportance: keepCritical(e.Importance, domain.ImportanceTimeSensitive),
			DecayReason:        domain.DecayUpcoming,
			HideInDigest:       false,
		}

	default:
		return &domain.TemporalAnnotation{
			ResolvedImportance: keepCritical(e.Importance, domain.ImportanceRoutine),
			DecayReason:        domain.DecayDistant,
			HideInDigest:       false,
		}
	}
}

// ResolveAll annotates a batch in place and returns it.
func (r *Resolver) ResolveAll(entities []*domain.Entity, now time.Time) []*domain.Entity {
	for _, e := range entities {
		if e != nil {
			r.Resolve(e, now)
		}
	}
	return entities
}

// keepCritical preserves a stored critical importance through the
// upcoming and distant windows.
func keepCritical(stored, decayed domain.Importance) domain.Importance {
	if stored == domain.ImportanceCritical {
		return domain.ImportanceCritical
	}
	return decayed
}
