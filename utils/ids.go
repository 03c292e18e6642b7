package utils

import "github.com/google/uuid"

// NewID returns a random identifier for sessions, pages and envelopes.
func NewID() string {
	return uuid.NewString()
}
