package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// ContentHash is the hex blake2b-256 digest used to address log entries
// and collection manifests.
func ContentHash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsContentHash reports whether s has the shape of a ContentHash
func IsContentHash(s string) bool {
	if len(s) != blake2b.Size256*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
