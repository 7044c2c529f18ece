// Package trial models one-time free-tier allowances keyed by a hashed
// caller identity.
package trial

import (
	"crypto/sha256"
	"encoding/hex"
)

// DefaultSalt is used when no salt is configured. Deployments must set their own.
const DefaultSalt = "dev-salt"

// HashKey returns hex(sha256(salt + ":" + key)). The raw key (usually an IP
// address) is never stored.
func HashKey(salt, key string) string {
	if salt == "" {
		salt = DefaultSalt
	}
	sum := sha256.Sum256([]byte(salt + ":" + key))
	return hex.EncodeToString(sum[:])
}
