package repository

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashKey is the indexed stand-in for unbounded text keys.
func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
