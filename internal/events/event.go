// Package events carries domain notifications emitted around shortener
// operations to pluggable sinks (log, metrics, message broker, audit table).
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type names a domain event
type Type string

const (
	URLCreated        Type = "url-created"
	URLAccessed       Type = "url-accessed"
	URLExpiredAccess  Type = "url-expired-access"
	InvalidCodeAccess Type = "invalid-code-access"
	ValidationFailure Type = "validation-failure"
	// Creations refused for capacity rather than bad input
	QuotaExceeded      Type = "quota-exceeded"
	CodeSpaceExhausted Type = "code-space-exhausted"
)

// Event is one notification. Detail is free text: the target URL for
// creations and accesses, the error message for failures.
type Event struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	ShortCode     string    `json:"shortCode,omitempty"`
	ClientAddress string    `json:"clientAddress,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// New builds an event stamped with a fresh ID and the current time.
func New(t Type, shortCode, clientAddress, detail string) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          t,
		ShortCode:     shortCode,
		ClientAddress: clientAddress,
		Detail:        detail,
		OccurredAt:    time.Now().UTC(),
	}
}

// IsFailure reports whether the event records a rejected request.
func (t Type) IsFailure() bool {
	switch t {
	case URLExpiredAccess, InvalidCodeAccess, ValidationFailure, QuotaExceeded, CodeSpaceExhausted:
		return true
	}
	return false
}
