package phone

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"ten digits", "5551234567", "+15551234567"},
		{"eleven digits with country code", "15551234567", "+15551234567"},
		{"already normalized", "+15551234567", "+15551234567"},
		{"international", "+44123456789", "+44123456789"},
		{"formatted", "(555) 123-4567", "+15551234567"},
		{"short number kept as-is", "911", "+911"},
		{"empty", "", ""},
		{"no digits", "ext.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
