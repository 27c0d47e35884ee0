// Package cryptox implements the salted password hashing used by the
// credential store.
package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"golang.org/x/crypto/argon2"
)

// Supported password hash algorithms. An empty algorithm name in a stored
// record means AlgoSHA256, the format older records were written with.
const (
	AlgoSHA256   = "sha256"
	AlgoArgon2id = "argon2id"
)

// SaltSize is the number of random bytes in a fresh password salt.
const SaltSize = 16

// NewSalt returns SaltSize random bytes, base64 encoded.
func NewSalt() string {
	return base64.StdEncoding.EncodeToString(common.GenerateRandByteArray(SaltSize))
}

// PasswordHash returns hex(sha256(salt || password)).
func PasswordHash(password, salt string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte(password))
	return hex.EncodeToString(h.Sum(nil))
}

// Argon2Hash returns the hex argon2id key of password under salt.
func Argon2Hash(password, salt string) string {
	key := argon2.IDKey([]byte(password), []byte(salt), 1, 64*1024, 4, 32)
	return hex.EncodeToString(key)
}

// HashPassword dispatches on algo.
func HashPassword(algo, password, salt string) (string, error) {
	switch algo {
	case "", AlgoSHA256:
		return PasswordHash(password, salt), nil
	case AlgoArgon2id:
		return Argon2Hash(password, salt), nil
	default:
		return "", fmt.Errorf("unknown password hash algorithm %q: %w", algo, common.ErrContractViolation)
	}
}

// EqualDigest compares two hex digests in constant time.
func EqualDigest(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
