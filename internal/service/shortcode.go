package service

import (
	"fmt"
	"regexp"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Base62 character set for short code generation
const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var customCodeRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ShortCodeGenerator validates custom short codes and draws random ones.
// It only reads the registry through the exists callback; inserting the
// allocated code is the caller's job.
type ShortCodeGenerator struct {
	codeLength  int
	maxRetries  int
	minAliasLen int
	maxAliasLen int
	random      func(alphabet string, size int) (string, error)
}

// NewShortCodeGenerator creates a new short code generator
func NewShortCodeGenerator(codeLength, maxRetries, minAliasLen, maxAliasLen int) *ShortCodeGenerator {
	return &ShortCodeGenerator{
		codeLength:  codeLength,
		maxRetries:  maxRetries,
		minAliasLen: minAliasLen,
		maxAliasLen: maxAliasLen,
		random:      gonanoid.Generate,
	}
}

// Allocate returns custom unchanged when it is valid and free. With an empty
// custom code it draws random codes until one is free, giving up after
// maxRetries attempts with ErrCodeSpaceExhausted.
func (g *ShortCodeGenerator) Allocate(custom string, exists func(code string) bool) (string, error) {
	if custom != "" {
		if err := g.ValidateCustom(custom); err != nil {
			return "", err
		}
		if exists(custom) {
			return "", ErrShortcodeCollision
		}
		return custom, nil
	}

	for attempt := 0; attempt < g.maxRetries; attempt++ {
		code, err := g.random(base62Chars, g.codeLength)
		if err != nil {
			return "", fmt.Errorf("generate short code: %w", err)
		}
		if !exists(code) {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// ValidateCustom checks the character class first, then the length.
func (g *ShortCodeGenerator) ValidateCustom(code string) error {
	if !customCodeRe.MatchString(code) {
		return ErrInvalidShortcodeFormat
	}
	if len(code) < g.minAliasLen || len(code) > g.maxAliasLen {
		return ErrInvalidShortcodeLength
	}
	return nil
}
