package sanitizer

import "testing"

func TestTrimAndNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"only spaces", "   ", ""},
		{"collapses internal whitespace", "Dr.   Alice\t Smith", "Dr. Alice Smith"},
		{"trims edges", "  Rex  ", "Rex"},
		{"drops control characters", "Rex\x00\x1b", "Rex"},
		{"newlines collapse to space", "line one\nline two", "line one line two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrimAndNormalize(tt.input); got != tt.expected {
				t.Errorf("TrimAndNormalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeNote_Caps(t *testing.T) {
	note := "annual checkup with vaccination booster"
	got := SanitizeNote(note, 14)
	if got != "annual checkup" {
		t.Errorf("SanitizeNote() = %q, want %q", got, "annual checkup")
	}

	if got := SanitizeNote(note, 0); got != note {
		t.Errorf("SanitizeNote() with no cap = %q, want %q", got, note)
	}
}
