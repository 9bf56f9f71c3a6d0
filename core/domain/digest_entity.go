package domain

import "time"

// EntityKind discriminates the entity variants
type EntityKind string

const (
	EntityFlight       EntityKind = "flight"
	EntityEvent        EntityKind = "event"
	EntityDeadline     EntityKind = "deadline"
	EntityReminder     EntityKind = "reminder"
	EntityPromo        EntityKind = "promo"
	EntityNotification EntityKind = "notification"
)

// NotificationCategory is the fine-grained class of a notification entity
type NotificationCategory string

const (
	NotificationFraudAlert     NotificationCategory = "fraud_alert"
	NotificationDelivery       NotificationCategory = "delivery"
	NotificationBill           NotificationCategory = "bill"
	NotificationJobOpportunity NotificationCategory = "job_opportunity"
	NotificationClaim          NotificationCategory = "claim"
	NotificationReservation    NotificationCategory = "reservation"
	NotificationGeneral        NotificationCategory = "general"
)

// Shipping statuses carried by delivery notifications
const (
	ShipStatusOutForDelivery = "out_for_delivery"
	ShipStatusShipped        = "shipped"
	ShipStatusDelivered      = "delivered"
)

// DecayReason explains why the temporal engine resolved an importance
type DecayReason string

const (
	DecayActive   DecayReason = "temporal_active"   // Happening now or within the hour
	DecayUpcoming DecayReason = "temporal_upcoming" // Within the next 7 days
	DecayDistant  DecayReason = "temporal_distant"  // More than 7 days out
	DecayExpired  DecayReason = "temporal_expired"  // Already over
	DecayNoData   DecayReason = "no_temporal_data"  // Nothing to decay on
)

// FlightDetails carries flight-booking facts.
type FlightDetails struct {
	Airline          string     `json:"airline,omitempty"`
	FlightNumber     string     `json:"flight_number,omitempty"`
	DepartureAirport string     `json:"departure_airport,omitempty"`
	ArrivalAirport   string     `json:"arrival_airport,omitempty"`
	DepartureTime    *time.Time `json:"departure_time,omitempty"`
	ConfirmationCode string     `json:"confirmation_code,omitempty"`
}

// EventDetails carries calendar-event facts.
type EventDetails struct {
	Title     string     `json:"title,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Location  string     `json:"location,omitempty"`
	Timezone  string     `json:"timezone,omitempty"`
}

// DeadlineDetails carries bill/payment due facts.
type DeadlineDetails struct {
	Description string     `json:"description,omitempty"`
	DueDate     string     `json:"due_date,omitempty"` // as written in the email
	DueTime     *time.Time `json:"due_time,omitempty"` // parsed, when possible
	Amount      string     `json:"amount,omitempty"`
	Merchant    string     `json:"merchant,omitempty"`
}

// ReminderDetails carries generic reminder facts.
type ReminderDetails struct {
	Action  string     `json:"action,omitempty"`
	DueTime *time.Time `json:"due_time,omitempty"`
}

// PromoDetails carries promotion facts.
type PromoDetails struct {
	Merchant    string     `json:"merchant,omitempty"`
	Offer       string     `json:"offer,omitempty"`
	DiscountPct int        `json:"discount_pct,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// NotificationDetails carries service-notification facts, including
// delivery tracking and OTP expiry.
type NotificationDetails struct {
	Category       NotificationCategory `json:"category"`
	OTPExpiresAt   *time.Time           `json:"otp_expires_at,omitempty"`
	ShipStatus     string               `json:"ship_status,omitempty"`
	TrackingNumber string               `json:"tracking_number,omitempty"`
}

// Entity is a structured fact extracted from one email. Kind selects which
// details pointer is set; exactly one variant is non-nil. Source fields are
// required downstream: the extractor recovers missing values from the email
// before any later stage sees the entity.
type Entity struct {
	Kind       EntityKind `json:"kind"`
	Confidence float64    `json:"confidence"`

	SourceEmailID  string `json:"source_email_id"`
	SourceThreadID string `json:"source_thread_id"`
	SourceSubject  string `json:"source_subject"`
	SourceSnippet  string `json:"source_snippet,omitempty"`

	Timestamp  time.Time  `json:"timestamp"`
	Importance Importance `json:"importance"` // stored importance, preserved for audit

	TemporalStart *time.Time `json:"temporal_start,omitempty"`
	TemporalEnd   *time.Time `json:"temporal_end,omitempty"`

	Flight       *FlightDetails       `json:"flight,omitempty"`
	Event        *EventDetails        `json:"event,omitempty"`
	Deadline     *DeadlineDetails     `json:"deadline,omitempty"`
	Reminder     *ReminderDetails     `json:"reminder,omitempty"`
	Promo        *PromoDetails        `json:"promo,omitempty"`
	Notification *NotificationDetails `json:"notification,omitempty"`

	Temporal *TemporalAnnotation `json:"temporal,omitempty"`
}

// TemporalAnnotation is attached by the temporal engine at digest time.
// The stored Importance on the entity is never overwritten.
type TemporalAnnotation struct {
	ResolvedImportance Importance  `json:"resolved_importance"`
	DecayReason        DecayReason `json:"decay_reason"`
	HideInDigest       bool        `json:"hide_in_digest"`
}

// ResolvedImportance returns the decayed importance when annotated and the
// stored importance otherwise.
func (e *Entity) ResolvedImportance() Importance {
	if e.Temporal != nil {
		return e.Temporal.ResolvedImportance
	}
	return e.Importance
}

// Title renders a short human label for the entity, used by digest items.
func (e *Entity) Title() string {
	switch e.Kind {
	case EntityFlight:
		if e.Flight != nil && e.Flight.FlightNumber != "" {
			if e.Flight.Airline != "" {
				return e.Flight.Airline + " " + e.Flight.FlightNumber
			}
			return "Flight " + e.Flight.FlightNumber
		}
	case EntityEvent:
		if e.Event != nil && e.Event.Title != "" {
			return e.Event.Title
		}
	case EntityDeadline:
		if e.Deadline != nil && e.Deadline.Description != "" {
			return e.Deadline.Description
		}
	case EntityReminder:
		if e.Reminder != nil && e.Reminder.Action != "" {
			return e.Reminder.Action
		}
	case EntityPromo:
		if e.Promo != nil && e.Promo.Offer != "" {
			if e.Promo.Merchant != "" {
				return e.Promo.Merchant + ": " + e.Promo.Offer
			}
			return e.Promo.Offer
		}
	}
	return e.SourceSubject
}
