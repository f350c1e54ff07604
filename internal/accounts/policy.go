package accounts

import (
	"errors"
	"strings"
	"time"
	"unicode"

	_ "time/tzdata" // ValidateTimezone не зависит от системной базы зон
)

const passwordSpecials = "!@#$%^&*()-_+=[]{}|;:,.<>?/"

// ValidatePassword возвращает первое нарушенное правило.
func ValidatePassword(password string) error {
	if len([]rune(password)) < 8 {
		return errors.New("Password must be at least 8 characters long")
	}
	if !strings.ContainsFunc(password, unicode.IsDigit) {
		return errors.New("Password must contain at least one digit")
	}
	if !strings.ContainsFunc(password, unicode.IsUpper) {
		return errors.New("Password must contain at least one uppercase letter")
	}
	if !strings.ContainsFunc(password, unicode.IsLower) {
		return errors.New("Password must contain at least one lowercase letter")
	}
	if !strings.ContainsAny(password, passwordSpecials) {
		return errors.New("Password must contain at least one special character")
	}
	return nil
}

// ValidateTimezone — имя из базы IANA; пусто — UTC.
func ValidateTimezone(tz string) (string, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return "UTC", nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", errors.New("Select a valid timezone")
	}
	return tz, nil
}
