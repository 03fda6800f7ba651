package domain

import "testing"

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		currency string
		amount   int64
		want     string
	}{
		{"NGN", 5000, "₦5,000"},
		{"", 999, "₦999"},
		{"ngn", 1234567, "₦1,234,567"},
		{"USD", 100000, "USD 100,000"},
		{"NGN", -4990, "-₦4,990"},
		{"NGN", 0, "₦0"},
	}
	for _, tt := range tests {
		if got := FormatAmount(tt.currency, tt.amount); got != tt.want {
			t.Errorf("FormatAmount(%q, %d) = %q, want %q", tt.currency, tt.amount, got, tt.want)
		}
	}
}
