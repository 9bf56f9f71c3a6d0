package extraction

import (
	"regexp"

	"digest_server/core/domain"
	"digest_server/core/service/temporal"
)

// Category signals checked in order; the first hit wins. Fraud is first
// so a "suspicious sign-in to your delivery account" never lands in
// delivery.
var categorySignals = []struct {
	category domain.NotificationCategory
	re       *regexp.Regexp
}{
	{domain.NotificationFraudAlert, regexp.MustCompile(`(?i)\b(unusual|suspicious|unauthorized|fraud(?:ulent)?|security alert|new sign.?in|sign.?in (?:activity|attempt))\b`)},
	{domain.NotificationDelivery, regexp.MustCompile(`(?i)\b(out for delivery|delivered|shipped|shipment|package|tracking|on its way)\b`)},
	{domain.NotificationBill, regexp.MustCompile(`(?i)\b(bill|statement|balance|payment (?:received|posted|processed|confirmation))\b`)},
	{domain.NotificationJobOpportunity, regexp.MustCompile(`(?i)\b(job (?:alert|opportunity|opening)|new position|recruiter|hiring|interview invitation)\b`)},
	{domain.NotificationClaim, regexp.MustCompile(`(?i)\b(claim|reimbursement|insurance)\b`)},
	{domain.NotificationReservation, regexp.MustCompile(`(?i)\b(reservation|booking (?:confirmed|confirmation)|check.?in|itinerary)\b`)},
}

var (
	otpRe       = regexp.MustCompile(`(?i)\b(verification code|one.?time (?:password|passcode|code)|security code|login code|2fa code|otp)\b`)
	otpExpiryRe = regexp.MustCompile(`(?i)\b(?:expires?|valid)\b`)

	shipOutForDeliveryRe = regexp.MustCompile(`(?i)\bout for delivery\b`)
	shipDeliveredRe      = regexp.MustCompile(`(?i)\b(was |has been )?delivered\b`)
	shipShippedRe        = regexp.MustCompile(`(?i)\b(has )?shipped\b|\bon its way\b`)

	trackingCarrierRe = regexp.MustCompile(`\b(1Z[0-9A-Z]{16}|TBA\d{9,12})\b`)
	trackingDigitsRe  = regexp.MustCompile(`(?i)\btracking\s*(?:number|no\.?|#)?\s*:?\s*(\d{10,22})\b`)

	noticeSubjectRe = regexp.MustCompile(`(?i)\b(alert|notice|notification|action required|verify your|confirm your)\b`)
)

type notificationExtractor struct {
	parser *temporal.Parser
}

func (n *notificationExtractor) name() string { return "notification" }

func (n *notificationExtractor) extract(email *domain.ParsedEmail) *domain.Entity {
	haystack := email.Subject + "\n" + email.Snippet + "\n" + email.Body()

	details := &domain.NotificationDetails{Category: domain.NotificationGeneral}
	confidence := 0.6
	matched := false

	for _, sig := range categorySignals {
		if sig.re.MatchString(haystack) {
			details.Category = sig.category
			matched = true
			confidence = 0.8
			if sig.category == domain.NotificationFraudAlert {
				confidence = 0.9
			}
			break
		}
	}

	if otpRe.MatchString(haystack) {
		matched = true
		if confidence < 0.8 {
			confidence = 0.8
		}
		if otpExpiryRe.MatchString(haystack) {
			if at, ok := n.parser.ParseRelative(haystack, email.ReceivedAt); ok {
				details.OTPExpiresAt = &at
			}
		}
	}

	if details.Category == domain.NotificationDelivery {
		details.ShipStatus = shipStatusOf(haystack)
	}
	if m := trackingCarrierRe.FindStringSubmatch(haystack); m != nil {
		details.TrackingNumber = m[1]
	} else if m := trackingDigitsRe.FindStringSubmatch(haystack); m != nil {
		details.TrackingNumber = m[1]
	}
	if details.TrackingNumber != "" && !matched {
		details.Category = domain.NotificationDelivery
		matched = true
		confidence = 0.8
	}

	if !matched && !noticeSubjectRe.MatchString(email.Subject) {
		return nil
	}

	entity := baseEntity(domain.EntityNotification, email, confidence)
	entity.Notification = details

	// An expiring code is only worth surfacing until it expires.
	if details.OTPExpiresAt != nil {
		entity.TemporalStart = details.OTPExpiresAt
		entity.TemporalEnd = details.OTPExpiresAt
	}

	return entity
}

func shipStatusOf(haystack string) string {
	switch {
	case shipOutForDeliveryRe.MatchString(haystack):
		return domain.ShipStatusOutForDelivery
	case shipDeliveredRe.MatchString(haystack):
		return domain.ShipStatusDelivered
	case shipShippedRe.MatchString(haystack):
		return domain.ShipStatusShipped
	default:
		return ""
	}
}
