package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinPasswordLength is the minimum number of characters in a password.
const MinPasswordLength = 8

// PasswordViolation identifies one unmet password rule.
type PasswordViolation string

// Violations are listed in the order they are checked.
const (
	PasswordTooShort         PasswordViolation = "too_short"
	PasswordMissingUppercase PasswordViolation = "missing_uppercase"
	PasswordMissingLowercase PasswordViolation = "missing_lowercase"
	PasswordMissingDigit     PasswordViolation = "missing_digit"
	PasswordMissingSpecial   PasswordViolation = "missing_special"
)

var violationMessages = map[PasswordViolation]string{
	PasswordTooShort:         "password must be at least 8 characters long",
	PasswordMissingUppercase: "password must contain an uppercase letter",
	PasswordMissingLowercase: "password must contain a lowercase letter",
	PasswordMissingDigit:     "password must contain a digit",
	PasswordMissingSpecial:   "password must contain a special character",
}

// Message returns a human-readable description of the violation.
func (v PasswordViolation) Message() string {
	if m, ok := violationMessages[v]; ok {
		return m
	}
	return string(v)
}

// PasswordPolicyError lists every rule a password failed.
type PasswordPolicyError struct {
	Violations []PasswordViolation
}

// Reason returns the first violation.
func (e *PasswordPolicyError) Reason() PasswordViolation {
	if len(e.Violations) == 0 {
		return ""
	}
	return e.Violations[0]
}

// Error implements the error interface.
func (e *PasswordPolicyError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message()
	}
	return "password policy: " + strings.Join(msgs, "; ")
}

// Has reports whether v is among the violations.
func (e *PasswordPolicyError) Has(v PasswordViolation) bool {
	for _, got := range e.Violations {
		if got == v {
			return true
		}
	}
	return false
}

// ValidatePassword checks a password against the policy and returns
// a *PasswordPolicyError carrying all violations, or nil.
func ValidatePassword(password string) error {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r) && !unicode.IsNumber(r):
			special = true
		}
	}

	var violations []PasswordViolation
	if utf8.RuneCountInString(password) < MinPasswordLength {
		violations = append(violations, PasswordTooShort)
	}
	if !upper {
		violations = append(violations, PasswordMissingUppercase)
	}
	if !lower {
		violations = append(violations, PasswordMissingLowercase)
	}
	if !digit {
		violations = append(violations, PasswordMissingDigit)
	}
	if !special {
		violations = append(violations, PasswordMissingSpecial)
	}

	if len(violations) == 0 {
		return nil
	}
	return &PasswordPolicyError{Violations: violations}
}
