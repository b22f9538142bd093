package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 string, the key format of every table.
func NewID() string {
	return uuid.NewString()
}

// IsID reports whether value parses as a UUID.
func IsID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

// RandomHex returns n random bytes hex-encoded.
func RandomHex(n int) string {
	bytes := make([]byte, n)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
