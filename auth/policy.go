package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinMasterPasswordLength is the minimum master password length in characters.
const MinMasterPasswordLength = 8

const specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_{|}~`"

// ErrPolicy is returned when a master password violates the policy.
var ErrPolicy = errors.New("password policy violation")

// ValidateMasterPassword applies the master password policy: non-empty and at least
// MinMasterPasswordLength characters.
func ValidateMasterPassword(pw string) error {
	if pw == "" {
		return fmt.Errorf("%w: password cannot be empty", ErrPolicy)
	}
	if utf8.RuneCountInString(pw) < MinMasterPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters long", ErrPolicy, MinMasterPasswordLength)
	}
	return nil
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

func hasLower(s string) bool {
	for _, r := range s {
		if unicode.IsLower(r) {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func hasSpecial(s string) bool {
	for _, r := range s {
		if strings.ContainsRune(specialChars, r) {
			return true
		}
	}
	return false
}
