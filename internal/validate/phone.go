// Package validate holds the pure input checks shared by campaign authoring
// and the delivery engine. Nothing in here performs I/O.
package validate

import (
	"fmt"
	"strings"

	appErrors "github.com/unclebandit/wa-broadcast/internal/errors"
)

// DefaultCountryCode is used when no country code is configured.
const DefaultCountryCode = "62"

const (
	minPhoneDigits = 10
	maxPhoneDigits = 15
)

func digitsOnly(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidatePhoneNumber checks that raw is an international number starting
// with countryCode and holding between 10 and 15 digits once formatting
// characters are removed.
func ValidatePhoneNumber(raw, countryCode string) error {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	if strings.TrimSpace(raw) == "" {
		return appErrors.NewValidationError("phone", "phone number is required")
	}

	digits := digitsOnly(raw)
	if digits == "" {
		return appErrors.NewValidationError("phone", "phone number contains no digits")
	}
	if !strings.HasPrefix(digits, countryCode) {
		return appErrors.NewValidationError("phone", fmt.Sprintf("phone number must start with country code %s", countryCode))
	}
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return appErrors.NewValidationError("phone", fmt.Sprintf("phone number must have %d-%d digits, got %d", minPhoneDigits, maxPhoneDigits, len(digits)))
	}
	return nil
}

// NormalizePhoneNumber converts raw to the canonical international form:
// digits only, a "00" dialing prefix dropped and a local leading 0 replaced
// by countryCode. Applying it twice yields the same result.
func NormalizePhoneNumber(raw, countryCode string) string {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	digits := digitsOnly(raw)

	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "00"):
		return strings.TrimLeft(digits, "0")
	case strings.HasPrefix(digits, "0"):
		return countryCode + digits[1:]
	}
	return digits
}
