// Package clock supplies wall-clock time and globally unique identifiers to
// the rest of the engine. Both are behind small interfaces so tests can pin
// time and ids deterministically.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock provides the current time. Using an interface enables deterministic
// tests via a controllable implementation.
type Clock interface {
	Now() time.Time
}

// IDProvider generates globally unique correlation/request identifiers.
type IDProvider interface {
	NewID() string
}

// System returns wall-clock time (UTC) and UUIDv4 identifiers.
type System struct{}

// NewSystem constructs the production Clock/IDProvider.
func NewSystem() System { return System{} }

// Now returns the current UTC time.
func (System) Now() time.Time { return time.Now().UTC() }

// NewID returns a new UUIDv4 string.
func (System) NewID() string { return uuid.NewString() }

// Fixed is a Clock pinned to a constant instant, for tests.
type Fixed struct {
	T time.Time
}

// Now returns the pinned instant.
func (f Fixed) Now() time.Time { return f.T }
