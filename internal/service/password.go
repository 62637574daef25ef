package service

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minPasswordRunes = 8
	// bcrypt refuses longer input.
	maxPasswordBytes = 72
)

var (
	ErrPasswordTooShort = fmt.Errorf("%w: password must be at least %d characters long", ErrInvalidRequest, minPasswordRunes)
	ErrPasswordTooLong  = fmt.Errorf("%w: password must be at most %d bytes long", ErrInvalidRequest, maxPasswordBytes)
	ErrPasswordTooWeak  = fmt.Errorf("%w: password must mix letters and digits", ErrInvalidRequest)
)

// ValidatePassword enforces the registration policy: at least 8 characters,
// at most 72 bytes, with at least one letter and one digit.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordRunes {
		return ErrPasswordTooShort
	}

	if len(password) > maxPasswordBytes {
		return ErrPasswordTooLong
	}

	if !strings.ContainsFunc(password, unicode.IsLetter) || !strings.ContainsFunc(password, unicode.IsDigit) {
		return ErrPasswordTooWeak
	}

	return nil
}
