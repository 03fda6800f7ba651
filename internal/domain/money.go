package domain

import (
	"strconv"
	"strings"
)

// FormatAmount renders whole currency units with thousands separators.
func FormatAmount(currency string, amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	switch strings.ToUpper(currency) {
	case "", "NGN":
		return sign + "₦" + b.String()
	}
	return sign + strings.ToUpper(currency) + " " + b.String()
}
