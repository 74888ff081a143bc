package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashRefreshToken derives the session-store lookup key from a raw refresh
// token. Only the hash is persisted; a database leak never yields usable
// refresh tokens. The pepper keeps hashes unlinkable across deployments.
func HashRefreshToken(token, pepper string) string {
	sum := sha256.Sum256([]byte(token + pepper))
	return hex.EncodeToString(sum[:])
}
