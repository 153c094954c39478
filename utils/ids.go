package utils

import "github.com/google/uuid"

// NewID returns a time-ordered UUIDv7 string, falling back to v4 when the
// random source fails.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewRequestID is used for X-Request-ID when the caller sends none.
func NewRequestID() string {
	return uuid.NewString()
}
