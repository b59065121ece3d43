package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// DefaultKeyPrefix identifies live gatehouse API keys
	DefaultKeyPrefix = "sk_live_"
	// KeyEntropyBytes is the number of random bytes in a key (32 bytes = 256 bits)
	KeyEntropyBytes = 32
	// displayChars is how many characters after the prefix are shown in logs
	displayChars = 8
)

// KeyGenerator creates and fingerprints API keys.
type KeyGenerator struct {
	prefix string
}

// NewKeyGenerator creates a generator for keys with the given prefix.
func NewKeyGenerator(prefix string) *KeyGenerator {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &KeyGenerator{prefix: prefix}
}

// Prefix returns the key prefix.
func (g *KeyGenerator) Prefix() string {
	return g.prefix
}

// Generate creates a new raw key and its storage hash.
// Format: <prefix><hex(32 random bytes)>
func (g *KeyGenerator) Generate() (rawKey string, keyHash string, err error) {
	randomBytes := make([]byte, KeyEntropyBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	rawKey = g.prefix + hex.EncodeToString(randomBytes)
	return rawKey, HashAPIKey(rawKey), nil
}

// ValidateFormat checks that a presented key could have been issued by this
// generator. It does not consult any store.
func (g *KeyGenerator) ValidateFormat(rawKey string) error {
	if !strings.HasPrefix(rawKey, g.prefix) {
		return fmt.Errorf("key must start with %q", g.prefix)
	}

	encoded := strings.TrimPrefix(rawKey, g.prefix)
	if len(encoded) != hex.EncodedLen(KeyEntropyBytes) {
		return fmt.Errorf("key body must be %d hex characters", hex.EncodedLen(KeyEntropyBytes))
	}
	if _, err := hex.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid key encoding: %w", err)
	}

	return nil
}

// DisplayPrefix returns a short, non-secret identifier for logs.
func (g *KeyGenerator) DisplayPrefix(rawKey string) string {
	if !strings.HasPrefix(rawKey, g.prefix) {
		return ""
	}
	encoded := strings.TrimPrefix(rawKey, g.prefix)
	if len(encoded) > displayChars {
		encoded = encoded[:displayChars]
	}
	return g.prefix + encoded
}

// HashAPIKey returns the hex SHA-256 digest of a raw key. The digest is the
// only form in which a key is stored or compared.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// IsKeyHash reports whether s looks like a value produced by HashAPIKey.
func IsKeyHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil && strings.ToLower(s) == s
}
