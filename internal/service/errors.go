package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingURL             = errors.New("original URL is required")
	ErrInvalidURL             = errors.New("invalid URL format")
	ErrInvalidValidityPeriod  = errors.New("validity period is out of range")
	ErrInvalidShortcodeFormat = errors.New("short code may only contain letters, digits, '-' and '_'")
	ErrInvalidShortcodeLength = errors.New("short code length out of range")
	ErrShortcodeCollision     = errors.New("short code already in use")
	ErrCodeSpaceExhausted     = errors.New("failed to generate a unique short code")
	ErrQuotaExceeded          = errors.New("active URL quota exceeded")
	ErrShortCodeNotFound      = errors.New("short code not found")
	ErrShortCodeExpired       = errors.New("short code has expired")
)

// ExpiredError is returned when resolving a code past its expiry date.
// It matches ErrShortCodeExpired under errors.Is.
type ExpiredError struct {
	ShortCode string
	ExpiredAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("short code %q expired at %s", e.ShortCode, e.ExpiredAt.Format(time.RFC3339))
}

func (e *ExpiredError) Is(target error) bool {
	return target == ErrShortCodeExpired
}
