package id

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// New generates a time-ordered UUID (version 7).
// Falls back to a random UUID v4 if the v7 generator fails.
func New() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}

// Short generates a short random hex ID (16 characters).
func Short() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
