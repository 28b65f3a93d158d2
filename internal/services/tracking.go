package services

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const trackingCodeLen = 10

// newTrackingCode returns ten upper-case hex characters.
func newTrackingCode() (string, error) {
	b := make([]byte, trackingCodeLen/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// NormalizeTrackingCode accepts codes typed in lower case or with
// surrounding spaces.
func NormalizeTrackingCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(asciiDigits(code)))
}
