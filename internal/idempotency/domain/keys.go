package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

const MaxKeyLength = 128

var clientKeyPattern = regexp.MustCompile(`^[A-Za-z0-9\-_:]{1,128}$`)

// ValidateClientKey checks a caller-supplied key against the allow-list.
func ValidateClientKey(key string) error {
	if !clientKeyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}

// DeriveKey collapses the same logical operation to one key. The result is
// "<operation>:<sha256 hex>" and never exceeds MaxKeyLength for operation
// names up to 63 bytes.
func DeriveKey(operation, entity, disambiguator string) string {
	sum := sha256.New()
	sum.Write([]byte(operation))
	sum.Write([]byte{0})
	sum.Write([]byte(entity))
	sum.Write([]byte{0})
	sum.Write([]byte(disambiguator))
	return strings.TrimSpace(operation) + ":" + hex.EncodeToString(sum.Sum(nil))
}
