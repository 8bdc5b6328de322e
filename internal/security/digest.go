package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestCode is the stored form of a one-time code. The optional pepper is
// appended after a colon; with an empty pepper the digest is the plain
// SHA-256 hex of the code.
func DigestCode(code, pepper string) string {
	input := code
	if pepper != "" {
		input = code + ":" + pepper
	}
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}
