package identity

import (
	"reflect"
	"testing"
)

func TestLooksLikeEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"a@b.com", true},
		{"user.name+tag@sub.domain.org", true},
		{"@b.com", false},
		{"a@", false},
		{"a@b", false},
		{"a@@b.com", false},
		{"612345678", false},
		{"", false},
	}
	for _, tt := range tests {
		tt := tt
		if got := looksLikeEmail(tt.in); got != tt.want {
			t.Errorf("looksLikeEmail(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLooksLikePhone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"+34612345678", true},
		{"612345678", true},
		{"612 34 56 78", true},
		{"(612) 345-678", true},
		{"123456", false},       // too short
		{"1234567890123456", false}, // too long
		{"g-opaque-123", false},
		{"a@b.com", false},
	}
	for _, tt := range tests {
		tt := tt
		if got := looksLikePhone(tt.in); got != tt.want {
			t.Errorf("looksLikePhone(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPhoneVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		in          string
		countryCode string
		want        []string
	}{
		{
			name:        "national number gains country prefix",
			in:          "612345678",
			countryCode: "34",
			want:        []string{"612345678", "+612345678", "34612345678", "+34612345678"},
		},
		{
			name:        "international number loses prefix",
			in:          "+34612345678",
			countryCode: "34",
			want:        []string{"+34612345678", "34612345678", "612345678"},
		},
		{
			name:        "separators stripped",
			in:          "612 345 678",
			countryCode: "34",
			want:        []string{"612 345 678", "612345678", "+612345678", "34612345678", "+34612345678"},
		},
		{
			name:        "no country code configured",
			in:          "612345678",
			countryCode: "",
			want:        []string{"612345678", "+612345678"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := PhoneVariants(tt.in, tt.countryCode)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PhoneVariants(%q, %q) = %v, want %v", tt.in, tt.countryCode, got, tt.want)
			}
		})
	}
}
