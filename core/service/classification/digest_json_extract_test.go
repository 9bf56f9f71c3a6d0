package classification

import "testing"

// TestExtractJSON tests the progressive repair cascade over typical model
// output shapes.
func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantStep string
		wantErr  bool
	}{
		{
			name:     "clean object parses strictly",
			raw:      `{"type": "receipt", "type_conf": 0.93}`,
			wantStep: RepairNone,
		},
		{
			name:     "surrounding whitespace parses strictly",
			raw:      "\n  {\"type\": \"otp\"}  \n",
			wantStep: RepairNone,
		},
		{
			name:     "json fence is removed",
			raw:      "```json\n{\"type\": \"event\"}\n```",
			wantStep: RepairFence,
		},
		{
			name:     "bare fence is removed",
			raw:      "```\n{\"type\": \"message\"}\n```",
			wantStep: RepairFence,
		},
		{
			name:     "object span inside prose",
			raw:      `Here is the classification: {"type": "promotion"} hope it helps`,
			wantStep: RepairSpan,
		},
		{
			name:     "trailing comma is dropped",
			raw:      `{"type": "newsletter", "type_conf": 0.9,}`,
			wantStep: RepairTrailingComma,
		},
		{
			name:     "trailing comma inside fence",
			raw:      "```json\n{\"type\": \"newsletter\",}\n```",
			wantStep: RepairTrailingComma,
		},
		{
			name:     "missing comma between lines is inserted",
			raw:      "{\"type\": \"receipt\"\n\"type_conf\": 0.8}",
			wantStep: RepairMissingComma,
		},
		{
			name:    "no object at all",
			raw:     "I could not classify this email.",
			wantErr: true,
		},
		{
			name:    "empty response",
			raw:     "",
			wantErr: true,
		},
		{
			name:    "unclosed object is unrepairable",
			raw:     `{"type": "receipt", "type_conf":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, step, err := ExtractJSON(tt.raw)

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q (step %q)", got, step)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if step != tt.wantStep {
				t.Errorf("repair step = %q, want %q", step, tt.wantStep)
			}
			if !isObject(got) {
				t.Errorf("result does not parse as an object: %q", got)
			}
		})
	}
}
