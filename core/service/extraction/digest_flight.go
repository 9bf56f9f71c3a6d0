package extraction

import (
	"regexp"
	"strings"

	"digest_server/core/domain"
	"digest_server/core/service/temporal"
)

// Airline dictionary keyed by two-letter IATA code. A flight number only
// counts when its carrier code is listed here or an explicit flight
// context word is present.
var airlineNames = map[string]string{
	"AA": "American Airlines",
	"AS": "Alaska Airlines",
	"B6": "JetBlue",
	"BA": "British Airways",
	"DL": "Delta",
	"EK": "Emirates",
	"F9": "Frontier",
	"AF": "Air France",
	"KL": "KLM",
	"LH": "Lufthansa",
	"NK": "Spirit",
	"QF": "Qantas",
	"SQ": "Singapore Airlines",
	"UA": "United",
	"WN": "Southwest",
}

// Airport codes recognized in route patterns, to keep "THE to USA" style
// all-caps text from matching.
var airportCodes = map[string]bool{
	"ATL": true, "AUS": true, "BOS": true, "BWI": true, "CDG": true,
	"CLT": true, "DCA": true, "DEN": true, "DFW": true, "DTW": true,
	"DXB": true, "EWR": true, "FRA": true, "HND": true, "IAD": true,
	"IAH": true, "JFK": true, "LAS": true, "LAX": true, "LGA": true,
	"LHR": true, "MCO": true, "MIA": true, "MSP": true, "NRT": true,
	"ORD": true, "PDX": true, "PHL": true, "PHX": true, "SAN": true,
	"SEA": true, "SFO": true, "SIN": true, "SLC": true, "SYD": true,
	"YYZ": true, "AMS": true,
}

var (
	flightNumberRe  = regexp.MustCompile(`\b([A-Z][A-Z0-9])\s?(\d{1,4})\b`)
	flightRouteRe   = regexp.MustCompile(`\b([A-Z]{3})\s*(?:to|-|–|→)\s*([A-Z]{3})\b`)
	flightContextRe = regexp.MustCompile(`(?i)\b(flight|itinerary|boarding|departure|e-?ticket)\b`)
	confirmationRe  = regexp.MustCompile(`(?i)(?:confirmation(?:\s+(?:number|code))?|record locator|booking reference|PNR)\s*(?:is|:|#)?\s*([A-Z0-9]{5,8})\b`)
	departureCueRe  = regexp.MustCompile(`(?i)\bdepart(?:s|ure|ing)?\b:?\s*`)
)

type flightExtractor struct {
	parser *temporal.Parser
}

func (f *flightExtractor) name() string { return "flight" }

func (f *flightExtractor) extract(email *domain.ParsedEmail) *domain.Entity {
	haystack := email.Subject + "\n" + email.Snippet + "\n" + email.Body()

	if !flightContextRe.MatchString(haystack) {
		return nil
	}

	details := &domain.FlightDetails{}
	found := false

	for _, m := range flightNumberRe.FindAllStringSubmatch(haystack, 8) {
		code := m[1]
		if name, ok := airlineNames[code]; ok {
			details.Airline = name
			details.FlightNumber = code + m[2]
			found = true
			break
		}
		// Unknown carrier code still counts with explicit flight context.
		if details.FlightNumber == "" && strings.Contains(strings.ToLower(haystack), "flight "+strings.ToLower(code)) {
			details.FlightNumber = code + m[2]
			found = true
		}
	}
	if !found {
		return nil
	}

	if m := flightRouteRe.FindStringSubmatch(haystack); m != nil {
		if airportCodes[m[1]] && airportCodes[m[2]] {
			details.DepartureAirport = m[1]
			details.ArrivalAirport = m[2]
		}
	}

	if m := confirmationRe.FindStringSubmatch(haystack); m != nil {
		details.ConfirmationCode = m[1]
	}

	entity := baseEntity(domain.EntityFlight, email, 0.9)
	entity.Flight = details

	if loc := departureCueRe.FindStringIndex(haystack); loc != nil {
		window := haystack[loc[1]:]
		if len(window) > 64 {
			window = window[:64]
		}
		if start, _, ok := f.parser.ParsePhrase(window, email.ReceivedAt); ok {
			details.DepartureTime = &start
			entity.TemporalStart = &start
		} else if day, ok := f.parser.ParseDate(window, email.ReceivedAt); ok {
			details.DepartureTime = &day
			entity.TemporalStart = &day
		}
	}

	return entity
}
