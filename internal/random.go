package internal

import (
	"crypto/rand"
	"encoding/base64"
)

const nonceSize = 16

// NewNonce returns 128 random bits, base64url without padding.
func NewNonce() (string, error) {
	var raw [nonceSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewKey returns n random bytes for throwaway keys in examples and tests.
func NewKey(n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
