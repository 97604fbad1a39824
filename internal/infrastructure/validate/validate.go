// Package validate holds composable string validators.
package validate

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validator is a function that validates a string and returns an error if invalid
type Validator func(value string) error

// Compose chains multiple validators, first error wins
func Compose(validators ...Validator) Validator {
	return func(value string) error {
		for _, v := range validators {
			if err := v(value); err != nil {
				return err
			}
		}
		return nil
	}
}

// Required ensures the value is not blank
func Required() Validator {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("is required")
		}
		return nil
	}
}

// MaxRunes caps the length in characters, not bytes.
func MaxRunes(max int) Validator {
	return func(v string) error {
		if utf8.RuneCountInString(v) > max {
			return fmt.Errorf("must be no more than %d characters", max)
		}
		return nil
	}
}

// NoControlChars rejects newlines, tabs and other control characters.
func NoControlChars() Validator {
	return func(v string) error {
		for _, c := range v {
			if unicode.IsControl(c) {
				return fmt.Errorf("must not contain control characters")
			}
		}
		return nil
	}
}

// ValidUTF8 rejects byte sequences that are not valid UTF-8.
func ValidUTF8() Validator {
	return func(v string) error {
		if !utf8.ValidString(v) {
			return fmt.Errorf("must be valid UTF-8")
		}
		return nil
	}
}
