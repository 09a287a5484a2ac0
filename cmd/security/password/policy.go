package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks the registration policy. Login never calls it.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)

	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if c.Policy.MaxLength > 0 && n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	// bcrypt silently ignores everything past 72 bytes.
	if c.algorithm() == AlgorithmBcrypt && len(password) > bcryptMaxBytes {
		return ErrPasswordTooLong
	}

	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}

	return nil
}

var commonPasswords = map[string]struct{}{
	"password":    {},
	"password123": {},
	"123456":      {},
	"12345678":    {},
	"123456789":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"11111111":    {},
	"senha":       {},
	"senha123":    {},
	"senha1234":   {},
}

// looksVeryWeak is a small blocklist plus two shape checks, nothing like a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	if _, ok := commonPasswords[strings.ToLower(s)]; ok {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Count(s, string(first)) == utf8.RuneCountInString(s) {
		return true
	}

	onlyDigits := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
	return onlyDigits && utf8.RuneCountInString(s) < 12
}
