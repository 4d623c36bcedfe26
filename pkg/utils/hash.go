package utils

import (
	"crypto/sha256"
	"encoding/base32"
	"strings"
)

// SumSHA256 returns the SHA-256 checksum of the provided data.
func SumSHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// ShortToken derives a deterministic lowercase token of the given length
// from the input string. Identical input always yields an identical token,
// which makes it safe to use in resource names that must be repeatable
// across redeployments.
func ShortToken(input string, length int) string {
	sum := sha256.Sum256([]byte(input))
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])
	enc = strings.ToLower(enc)
	if length > len(enc) {
		length = len(enc)
	}
	return enc[:length]
}
