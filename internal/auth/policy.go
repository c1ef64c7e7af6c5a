// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package auth

import (
	"net/mail"
	"strings"
	"unicode"
)

// Password policy constraints.
const (
	MinPasswordLength = 8
	// MaxPasswordLength bounds hashing cost for hostile inputs.
	MaxPasswordLength = 256
)

// ValidatePassword enforces the password policy: at least MinPasswordLength
// characters with at least one letter and one digit.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return PasswordTooWeak.Builder().
			With("min_length", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return PasswordTooWeak.Builder().
			With("max_length", MaxPasswordLength).
			Errorf("password must be at most %d characters", MaxPasswordLength)
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return PasswordTooWeak.Errorf("password must contain at least one letter and one digit")
	}
	return nil
}

// NormalizeEmail trims and lower-cases an address. Email identity is
// case-insensitive everywhere in the system.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare address.
func ValidateEmail(email string) error {
	if email == "" {
		return InvalidInput.Errorf("email cannot be empty")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return InvalidInput.Builder().With("email", email).Errorf("invalid email address")
	}
	return nil
}
