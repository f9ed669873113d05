package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minNameLen     = 3
	maxNameLen     = 40
	minPasswordLen = 8
	maxPasswordLen = 40
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	return nil
}

func validateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n == 0 {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if n < minNameLen || n > maxNameLen {
		return fmt.Errorf("%w: name must be between %d and %d characters", ErrValidation, minNameLen, maxNameLen)
	}
	return nil
}

func validatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n == 0 {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}
	if n < minPasswordLen || n > maxPasswordLen {
		return fmt.Errorf("%w: password must be between %d and %d characters", ErrValidation, minPasswordLen, maxPasswordLen)
	}
	return nil
}
