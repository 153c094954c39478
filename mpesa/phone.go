package mpesa

import (
	"strings"

	"fundraiser/apperr"
)

const countryCode = "254"

// CleanPhone strips every non-digit character from raw.
func CleanPhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidatePhone reports whether raw is a Kenyan MSISDN in one of the accepted
// shapes: 2547XXXXXXXX, 07XXXXXXXX or a bare 9 digit subscriber number.
func ValidatePhone(raw string) bool {
	_, err := NormalizePhone(raw)
	return err == nil
}

// NormalizePhone returns the 12 digit 254XXXXXXXXX form of raw.
func NormalizePhone(raw string) (string, error) {
	digits := CleanPhone(raw)
	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, countryCode):
		return digits, nil
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		return countryCode + digits[1:], nil
	case len(digits) == 9 && !strings.HasPrefix(digits, "0"):
		return countryCode + digits, nil
	}
	return "", apperr.New(apperr.KindInvalidFormat, "Invalid phone number format")
}
