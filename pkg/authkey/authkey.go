// Package authkey generates and validates operator-issued API keys for the
// in-band auth command set, grounded on the reference implementation's
// security_utils.generate_api_key/validate_api_key.
package authkey

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// alphabet excludes visually ambiguous characters (0/O, 1/l/I) so keys read
// back correctly when an operator transcribes one by hand.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

const defaultLength = 32

// Generate returns a single cryptographically random API key of the given
// length. length <= 0 uses defaultLength.
func Generate(length int) (string, error) {
	if length <= 0 {
		length = defaultLength
	}
	var sb strings.Builder
	sb.Grow(length)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("authkey: generating key: %w", err)
		}
		sb.WriteByte(alphabet[n.Int64()])
	}
	return sb.String(), nil
}

// GenerateMany returns count independently generated keys.
func GenerateMany(count, length int) ([]string, error) {
	keys := make([]string, 0, count)
	for i := 0; i < count; i++ {
		k, err := Generate(length)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// minValidLength is the shortest key Validate accepts, independent of the
// length Generate was asked to produce.
const minValidLength = 16

// Validate reports whether apiKey looks like a key this package could have
// generated: long enough and drawn only from the key alphabet. It does not
// check the key against any store.
func Validate(apiKey string) bool {
	if len(apiKey) < minValidLength {
		return false
	}
	for _, r := range apiKey {
		if strings.IndexRune(alphabet, r) < 0 {
			return false
		}
	}
	return true
}
