package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor for new key hashes.
//
// API keys are checked on every request, not once per login, so the cost is
// lower than a password hash would get. Generated keys carry 256 bits of
// randomness; the hash only has to resist someone holding the config file.
const defaultCost = 10

// maxKeyLength is bcrypt's input limit. Longer keys would be truncated.
const maxKeyLength = 72

// KeyRing holds the bcrypt hashes of every accepted API key.
type KeyRing struct {
	hashes [][]byte
}

// NewKeyRing parses hashes. Blank entries are skipped; anything that is not a
// bcrypt hash is an error, so a plaintext key pasted by mistake is caught at
// startup.
func NewKeyRing(hashes []string) (*KeyRing, error) {
	kr := &KeyRing{}
	for i, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("auth: API key hash #%d is not a bcrypt hash: %w", i+1, err)
		}
		kr.hashes = append(kr.hashes, []byte(h))
	}
	return kr, nil
}

// Len reports how many keys the ring accepts.
func (k *KeyRing) Len() int {
	return len(k.hashes)
}

// Verify reports whether key matches any stored hash.
// bcrypt compares in constant time per hash.
func (k *KeyRing) Verify(key string) bool {
	if key == "" || len(key) > maxKeyLength {
		return false
	}
	for _, h := range k.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return true
		}
	}
	return false
}

// HashKey returns the bcrypt hash to put in RUNNER_API_KEY_HASHES.
func HashKey(key string) (string, error) {
	return hashKeyWithCost(key, defaultCost)
}

func hashKeyWithCost(key string, cost int) (string, error) {
	if key == "" {
		return "", errors.New("auth: API key must not be empty")
	}
	if len(key) > maxKeyLength {
		return "", fmt.Errorf("auth: API key must be %d bytes or fewer", maxKeyLength)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing API key: %w", err)
	}
	return string(hashed), nil
}

// GenerateKey returns a new random API key (64 hex chars).
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generating API key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
