// Package fingerprint computes the compact content identifiers the tracker
// and merge service use to recognize when two snapshots of a file are the
// same: SHA-256 over the file bytes, truncated to a 16-hex-character
// prefix, which is enough for use as a map key and equality check.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Length is the number of hex characters in a fingerprint.
const Length = 16

// Of returns the fingerprint of content: the first Length hex characters
// of the content's SHA-256 digest.
func Of(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:Length]
}

// OfString is a convenience wrapper for text content, hashing its UTF-8
// encoding exactly as Of would for the equivalent bytes.
func OfString(content string) string {
	return Of([]byte(content))
}
