package domain

import "time"

// Section is a digest section heading
type Section string

const (
	SectionCritical       Section = "CRITICAL"
	SectionToday          Section = "TODAY"
	SectionComingUp       Section = "COMING UP"
	SectionWorthKnowing   Section = "WORTH KNOWING"
	SectionEverythingElse Section = "EVERYTHING ELSE"
)

// LabeledSections are the four headed sections always rendered, even empty.
// EVERYTHING ELSE renders counts only.
var LabeledSections = []Section{
	SectionCritical,
	SectionToday,
	SectionComingUp,
	SectionWorthKnowing,
}

// Priority bases by resolved importance. Item priority is base × confidence.
const (
	PriorityBaseCritical      = 1.0
	PriorityBaseTimeSensitive = 0.7
	PriorityBaseRoutine       = 0.3
)

// PriorityBase returns the priority multiplier for a resolved importance.
func PriorityBase(imp Importance) float64 {
	switch imp {
	case ImportanceCritical:
		return PriorityBaseCritical
	case ImportanceTimeSensitive:
		return PriorityBaseTimeSensitive
	default:
		return PriorityBaseRoutine
	}
}

// DigestItem is one rendered line of the digest.
type DigestItem struct {
	Section       Section   `json:"section"`
	Priority      float64   `json:"priority"`
	Title         string    `json:"title"`
	Snippet       string    `json:"snippet,omitempty"`
	SourceEmailID string    `json:"source_email_id"`
	ThreadLink    string    `json:"thread_link,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Digest is the ordered output of one synthesis run. Items are sorted by
// section order, then priority descending, with deterministic tie-breaks.
type Digest struct {
	GeneratedAt    time.Time         `json:"generated_ts"`
	TotalEmails    int               `json:"total_emails"`
	Items          []DigestItem      `json:"items"`
	SectionCounts  map[Section]int   `json:"noise_summary"`   // per-section item counts
	NoiseBreakdown map[EmailType]int `json:"noise_breakdown"` // routine thread counts by type
	Summary        string            `json:"summary,omitempty"`
}

// ItemsIn returns the digest items belonging to one section, in order.
func (d *Digest) ItemsIn(section Section) []DigestItem {
	var out []DigestItem
	for _, item := range d.Items {
		if item.Section == section {
			out = append(out, item)
		}
	}
	return out
}

// GmailThreadLink builds the canonical deep link for a thread id.
func GmailThreadLink(threadID string) string {
	if threadID == "" {
		return ""
	}
	return "https://mail.google.com/mail/u/0/#all/" + threadID
}

// SummaryWordBudget returns the (min, max) word budget for the digest
// summary sentence, adaptive to batch size.
func SummaryWordBudget(totalEmails int) (int, int) {
	switch {
	case totalEmails <= 10:
		return 60, 90
	case totalEmails <= 30:
		return 90, 120
	case totalEmails <= 100:
		return 120, 150
	default:
		return 150, 180
	}
}

// DigestSession is the persisted record of one digest run.
type DigestSession struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Variant      string        `json:"variant"`
	TotalFetched int           `json:"total_fetched"`
	TotalParsed  int           `json:"total_parsed"`
	TotalDeduped int           `json:"total_deduped"`
	FeaturedN    int           `json:"featured_n"`
	Duration     time.Duration `json:"duration"`
	GeneratedAt  time.Time     `json:"generated_at"`
}

// ABTestRun records one pipeline run under a variant label so offline
// evaluation can compare configurations.
type ABTestRun struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Variant   string    `json:"variant"`
	StartedAt time.Time `json:"started_at"`
}

// ABTestMetric is one named measurement of a run.
type ABTestMetric struct {
	ID    int64   `json:"id"`
	RunID string  `json:"run_id"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Category is one row of the seeded type catalog used by the renderer.
type Category struct {
	Type        EmailType `json:"type"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
}
