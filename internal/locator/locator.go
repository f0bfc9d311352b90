// Package locator resolves client addresses to coarse, human-readable
// locations for click analytics.
package locator

import (
	"context"
	"math/rand/v2"
)

// Unknown is returned when no location can be determined.
const Unknown = "Unknown"

// Locator maps a client address to a coarse location. Implementations never
// fail; they fall back to Unknown.
type Locator interface {
	Locate(ctx context.Context, clientAddress string) string
}

var defaultPlaces = []string{
	"Mumbai, IN",
	"Delhi, IN",
	"Bengaluru, IN",
	"Hyderabad, IN",
	"Chennai, IN",
	"Kolkata, IN",
	"Pune, IN",
	"New York, US",
	"London, GB",
	"Singapore, SG",
}

// RandomLocator picks a place at random. It stands in for a geo-IP provider
// in development and tests.
type RandomLocator struct {
	places []string
}

// NewRandomLocator creates a random locator over places, or a built-in list
// when places is empty.
func NewRandomLocator(places ...string) *RandomLocator {
	if len(places) == 0 {
		places = defaultPlaces
	}
	return &RandomLocator{places: places}
}

func (l *RandomLocator) Locate(_ context.Context, _ string) string {
	return l.places[rand.IntN(len(l.places))]
}

var _ Locator = (*RandomLocator)(nil)
