package extraction

import (
	"regexp"
	"strconv"
	"strings"

	"digest_server/core/domain"
	"digest_server/core/service/temporal"
)

var (
	discountRe   = regexp.MustCompile(`(?i)(\d{1,2})\s*%\s*off`)
	promoCueRe   = regexp.MustCompile(`(?i)\b(sale|deal|discount|coupon|promo code|limited time|% off)\b`)
	saleWindowRe = regexp.MustCompile(`(?i)\b(?:ends|through|until|expires)\s+(?:on\s+)?`)
)

type promoExtractor struct {
	parser *temporal.Parser
}

func (p *promoExtractor) name() string { return "promo" }

func (p *promoExtractor) extract(email *domain.ParsedEmail) *domain.Entity {
	haystack := email.Subject + "\n" + email.Snippet + "\n" + email.Body()

	discount := discountRe.FindStringSubmatch(haystack)
	if discount == nil && !promoCueRe.MatchString(haystack) {
		return nil
	}

	details := &domain.PromoDetails{
		Merchant: email.SenderName(),
		Offer:    strings.TrimSpace(email.Subject),
	}
	if discount != nil {
		if pct, err := strconv.Atoi(discount[1]); err == nil {
			details.DiscountPct = pct
		}
	}

	// Sale window: "ends Nov 30", "through Dec 1", "until 2025-12-01".
	if loc := saleWindowRe.FindStringIndex(haystack); loc != nil {
		window := haystack[loc[1]:]
		if len(window) > 40 {
			window = window[:40]
		}
		if day, ok := p.parser.ParseDate(window, email.ReceivedAt); ok {
			expires := day.Add(endOfDay)
			details.ExpiresAt = &expires
		}
	}

	entity := baseEntity(domain.EntityPromo, email, 0.75)
	entity.Promo = details
	return entity
}
