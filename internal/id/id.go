package id

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/gofrs/uuid/v5"
)

// New returns a time-ordered UUIDv7 so job ids sort by creation time.
func New() string {
	u, err := uuid.NewV7()
	if err != nil {
		return fallback()
	}
	return u.String()
}

func fallback() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "job-fallback-id"
	}
	return hex.EncodeToString(b[:])
}

// Valid reports whether s looks like an id produced by New.
func Valid(s string) bool {
	if _, err := uuid.FromString(s); err == nil {
		return true
	}
	if len(s) != 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
