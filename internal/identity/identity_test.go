package identity_test

import (
	"testing"

	"github.com/lbento/warden/internal/identity"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain number",
			input:    "5511987654321",
			expected: "5511987654321",
		},
		{
			name:     "number with domain suffix",
			input:    "5511987654321@s.whatsapp.net",
			expected: "5511987654321",
		},
		{
			name:     "number with device qualifier",
			input:    "5511987654321:17@s.whatsapp.net",
			expected: "5511987654321",
		},
		{
			name:     "group conversation id",
			input:    "120363041234567890@g.us",
			expected: "120363041234567890",
		},
		{
			name:     "no leading digits",
			input:    "status@broadcast",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "digits after prefix are ignored",
			input:    "abc123",
			expected: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := identity.Normalize(tc.input); got != tc.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		a, b     string
		expected bool
	}{
		{
			name:     "same digits different suffixes",
			a:        "5511987654321@s.whatsapp.net",
			b:        "5511987654321:3@s.whatsapp.net",
			expected: true,
		},
		{
			name:     "sender field vs conversation field",
			a:        "5511987654321:12@s.whatsapp.net",
			b:        "5511987654321@c.us",
			expected: true,
		},
		{
			name:     "different numbers",
			a:        "5511987654321@s.whatsapp.net",
			b:        "5511987654322@s.whatsapp.net",
			expected: false,
		},
		{
			name:     "empty never equals non-empty",
			a:        "status@broadcast",
			b:        "5511987654321",
			expected: false,
		},
		{
			name:     "two empties are not equal",
			a:        "",
			b:        "status@broadcast",
			expected: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := identity.Equal(tc.a, tc.b); got != tc.expected {
				t.Errorf("Equal(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.expected)
			}
		})
	}
}
