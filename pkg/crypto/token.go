package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// SwarmKeyLength is the byte length of generated swarm keys
const SwarmKeyLength = 32

// HashToken returns the hex sha256 of a bearer token. It is what gets
// logged in place of the token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Fingerprint is a short, log friendly prefix of HashToken. Empty tokens
// have no fingerprint.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	return HashToken(token)[:12]
}

// GenerateSwarmKey returns a random shared secret for a private peer swarm
func GenerateSwarmKey() (string, error) {
	b := make([]byte, SwarmKeyLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// VerifySwarmKey compares a presented key to the configured one in constant
// time. An empty configured key disables the check.
func VerifySwarmKey(presented, configured string) bool {
	if configured == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(presented)), []byte(HashToken(configured))) == 1
}
