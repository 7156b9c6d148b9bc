// Package phone normalizes and validates Ghanaian mobile subscriber numbers.
package phone

import (
	"errors"
	"strings"
)

// ErrInvalidFormat is returned when the input matches neither accepted shape
// (10 digits starting with 0, or 12 digits starting with 233).
var ErrInvalidFormat = errors.New("invalid phone number format")

// carrierPrefixes is the allow-list of Ghanaian mobile network prefixes,
// checked against the local form (leading zero included).
var carrierPrefixes = map[string]struct{}{
	"020": {}, "023": {}, "024": {}, "025": {}, "026": {},
	"027": {}, "028": {}, "029": {}, "050": {}, "054": {},
	"055": {}, "056": {}, "057": {}, "059": {},
}

// Validate reports whether raw is a valid Ghanaian mobile number in either
// the local (0XXXXXXXXX) or international (233XXXXXXXXX, optionally with a
// leading +) form.
func Validate(raw string) bool {
	digits := stripNonDigits(raw)

	switch {
	case len(digits) == 10 && digits[0] == '0':
		_, ok := carrierPrefixes[digits[:3]]
		return ok
	case len(digits) == 12 && strings.HasPrefix(digits, "233"):
		// Re-check the international form as a local number so both shapes
		// share one prefix allow-list.
		return Validate("0" + digits[3:])
	default:
		return false
	}
}

// Normalize converts any accepted input to the canonical +233XXXXXXXXX form.
// Inputs matching neither accepted shape fail with ErrInvalidFormat; no
// guessing is attempted.
func Normalize(raw string) (string, error) {
	digits := stripNonDigits(raw)

	switch {
	case len(digits) == 10 && digits[0] == '0':
		if _, ok := carrierPrefixes[digits[:3]]; !ok {
			return "", ErrInvalidFormat
		}
		return "+233" + digits[1:], nil
	case len(digits) == 12 && strings.HasPrefix(digits, "233"):
		return Normalize("0" + digits[3:])
	default:
		return "", ErrInvalidFormat
	}
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
