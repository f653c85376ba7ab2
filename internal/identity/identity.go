// Package identity provides the one-way transform applied to sender
// addresses before they reach any other component.
//
// Phone numbers are hashed with SHA-256 plus an application salt. The hash
// is deterministic, so sessions and opt-outs can be looked up without ever
// storing a plaintext number. Changing the salt orphans existing sessions.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// TruncatedHashLength is the number of hash characters considered safe for logs.
const TruncatedHashLength = 12

// ErrEmptySalt indicates the hasher was constructed without a salt.
var ErrEmptySalt = errors.New("identity salt cannot be empty")

// Hasher converts raw sender addresses into opaque identity keys.
type Hasher struct {
	salt string
}

// NewHasher creates a Hasher with the given secret salt.
func NewHasher(salt string) (*Hasher, error) {
	if salt == "" {
		return nil, ErrEmptySalt
	}
	return &Hasher{salt: salt}, nil
}

// HashPhone returns the hex SHA-256 digest of the salted, normalized phone
// number. Normalization strips surrounding whitespace; carriers already
// deliver numbers in E.164 form.
func (h *Hasher) HashPhone(phone string) string {
	normalized := strings.TrimSpace(phone)
	sum := sha256.Sum256([]byte(h.salt + normalized))
	return hex.EncodeToString(sum[:])
}

// Truncate shortens a hash to a log-safe prefix.
func Truncate(hash string) string {
	if len(hash) <= TruncatedHashLength {
		return hash
	}
	return hash[:TruncatedHashLength] + "..."
}
