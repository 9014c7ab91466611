package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewSecret returns a 256-bit random signing secret as lowercase hex.
func NewSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return hex.EncodeToString(b)
}
