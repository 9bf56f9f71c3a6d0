package classification

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

// Repair steps, recorded so telemetry can show which stage of the cascade
// rescued a malformed model response.
const (
	RepairNone          = ""
	RepairFence         = "fence_removed"
	RepairSpan          = "object_span"
	RepairTrailingComma = "trailing_comma"
	RepairMissingComma  = "missing_comma"
)

var (
	fencePattern         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	// A string/number/boolean/null value followed directly by the next
	// quoted key with no separating comma.
	missingCommaPattern = regexp.MustCompile(`(["\d]|true|false|null)(\s*\n\s*)"`)
)

// ExtractJSON recovers a JSON object from raw model output. Returns the
// parseable JSON text and the repair step that produced it. Fails only
// when every step of the cascade fails.
func ExtractJSON(raw string) (string, string, error) {
	candidate := strings.TrimSpace(raw)
	if isObject(candidate) {
		return candidate, RepairNone, nil
	}

	// Fenced code block
	if m := fencePattern.FindStringSubmatch(candidate); m != nil {
		if isObject(m[1]) {
			return m[1], RepairFence, nil
		}
		candidate = m[1]
	}

	// Largest {...} span
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start < 0 || end <= start {
		return "", "", fmt.Errorf("no JSON object in response")
	}
	span := candidate[start : end+1]
	if isObject(span) {
		return span, RepairSpan, nil
	}

	// Trailing commas before } or ]
	repaired := trailingCommaPattern.ReplaceAllString(span, "$1")
	if isObject(repaired) {
		return repaired, RepairTrailingComma, nil
	}

	// Missing commas between a value and the next key
	repaired = missingCommaPattern.ReplaceAllString(repaired, `$1,$2"`)
	if isObject(repaired) {
		return repaired, RepairMissingComma, nil
	}

	return "", "", fmt.Errorf("unrepairable JSON object")
}

// isObject reports whether s parses as a JSON object.
func isObject(s string) bool {
	if !strings.HasPrefix(strings.TrimSpace(s), "{") {
		return false
	}
	var m map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &m) == nil
}
