package validation

import "testing"

func TestIsValidLastFourDigits(t *testing.T) {
	tests := []struct {
		name  string
		value string
		valid bool
	}{
		{
			name:  "four digits",
			value: "1234",
			valid: true,
		},
		{
			name:  "leading zeros",
			value: "0007",
			valid: true,
		},
		{
			name:  "contains letter",
			value: "12a4",
			valid: false,
		},
		{
			name:  "too short",
			value: "123",
			valid: false,
		},
		{
			name:  "full card number fragment",
			value: "12345",
			valid: false,
		},
		{
			name:  "empty string",
			value: "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidLastFourDigits(tt.value)
			if got != tt.valid {
				t.Fatalf("IsValidLastFourDigits(%q) = %v, want %v", tt.value, got, tt.valid)
			}
		})
	}
}

func TestIsValidMCCCode(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{
			name:  "grocery",
			code:  "5411",
			valid: true,
		},
		{
			name:  "letters",
			code:  "54ab",
			valid: false,
		},
		{
			name:  "too long",
			code:  "54111",
			valid: false,
		},
		{
			name:  "empty",
			code:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidMCCCode(tt.code)
			if got != tt.valid {
				t.Fatalf("IsValidMCCCode(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}
