// Package validate holds the input whitelist used at every trust boundary.
// Every predicate is a closed pattern match: input is accepted only when it
// matches the allowed shape exactly, everything else is rejected. Predicates
// are pure functions and never log.
package validate

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MaxAmount is the largest payment amount the system accepts.
const MaxAmount = 999_999_999.99

var (
	fullNameRe      = regexp.MustCompile(`^[A-Za-z' -]{2,100}$`)
	nationalIDRe    = regexp.MustCompile(`^[0-9]{13}$`)
	accountNumberRe = regexp.MustCompile(`^[0-9]{10,16}$`)
	usernameRe      = regexp.MustCompile(`^[A-Za-z0-9_]{3,50}$`)
	currencyRe      = regexp.MustCompile(`^[A-Z]{3}$`)
	swiftRe         = regexp.MustCompile(`^[A-Z]{6}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
	orgNameRe       = regexp.MustCompile(`^[A-Za-z][A-Za-z &.-]{1,99}$`)
	emailRe         = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	phoneRe         = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	urlRe           = regexp.MustCompile(`^https?://[A-Za-z0-9.-]+(?::[0-9]{1,5})?(?:/[A-Za-z0-9._~%!$&'()*+,;=:@/-]*)?(?:\?[A-Za-z0-9._~%!$&'()*+,;=:@/-]*)?$`)
	objectIDRe      = regexp.MustCompile(`^[a-fA-F0-9]{24}$`)
	ulidRe          = regexp.MustCompile(`^[0-9A-HJKMNP-TV-Z]{26}$`)

	passwordLenRe     = regexp.MustCompile(`^.{8,100}$`)
	passwordLowerRe   = regexp.MustCompile(`[a-z]`)
	passwordUpperRe   = regexp.MustCompile(`[A-Z]`)
	passwordDigitRe   = regexp.MustCompile(`[0-9]`)
	passwordSpecialRe = regexp.MustCompile("[!@#$%^&*()\\-_=+\\[\\]{}|;:'\",.<>/?`~]")

	amountStringRe = regexp.MustCompile(`^[0-9]{1,9}(\.[0-9]{1,2})?$`)
)

// FullName accepts letters, spaces, hyphens and apostrophes, 2-100 chars.
func FullName(s string) bool { return fullNameRe.MatchString(s) }

// NationalID accepts exactly 13 digits.
func NationalID(s string) bool { return nationalIDRe.MatchString(s) }

// AccountNumber accepts 10-16 digits.
func AccountNumber(s string) bool { return accountNumberRe.MatchString(s) }

// Username accepts alphanumerics and underscore, 3-50 chars. Callers fold to
// lowercase with NormalizeUsername at the point of use.
func Username(s string) bool { return usernameRe.MatchString(s) }

// NormalizeUsername lowercases and trims a username for lookups and storage.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Password requires 8-100 chars with at least one lowercase letter, one
// uppercase letter, one digit and one special character.
func Password(s string) bool {
	return passwordLenRe.MatchString(s) &&
		passwordLowerRe.MatchString(s) &&
		passwordUpperRe.MatchString(s) &&
		passwordDigitRe.MatchString(s) &&
		passwordSpecialRe.MatchString(s)
}

// Currency accepts a three-letter uppercase code.
func Currency(s string) bool { return currencyRe.MatchString(s) }

// SwiftCode accepts an 8 or 11 character BIC, uppercase only.
func SwiftCode(s string) bool { return swiftRe.MatchString(s) }

// ProviderName accepts a payment-provider display name.
func ProviderName(s string) bool { return orgNameRe.MatchString(s) }

// BankName accepts a bank display name.
func BankName(s string) bool { return orgNameRe.MatchString(s) }

// Email accepts a conservative mailbox@domain.tld shape up to 254 chars.
func Email(s string) bool { return len(s) <= 254 && emailRe.MatchString(s) }

// Phone accepts 7-15 digits with an optional leading plus.
func Phone(s string) bool { return phoneRe.MatchString(s) }

// URL accepts http and https URLs with a restricted character set.
func URL(s string) bool { return len(s) <= 2048 && urlRe.MatchString(s) }

// ReferenceID accepts a stored-record reference: a 24-char hex object id or
// a 26-char ULID.
func ReferenceID(s string) bool {
	return objectIDRe.MatchString(s) || ulidRe.MatchString(s)
}

// Amount accepts values in (0, MaxAmount] with at most two decimal places.
func Amount(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	if v <= 0 || v > MaxAmount {
		return false
	}
	// A third decimal place puts v*100 at least 0.1 away from an integer;
	// float64 noise at this magnitude stays below 1e-4.
	cents := v * 100
	return math.Abs(cents-math.Round(cents)) < 1e-3
}

// AmountString parses a decimal string and applies the Amount policy.
// Signs, commas and exponents are rejected by shape before parsing.
func AmountString(s string) bool {
	if !amountStringRe.MatchString(s) {
		return false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}
	return Amount(v)
}
