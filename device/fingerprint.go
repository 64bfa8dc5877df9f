package device

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash"
)

// MinKeySize is the smallest fingerprint key NewBinder accepts.
const MinKeySize = 16

// ErrKeyTooShort is returned by NewBinder for keys below MinKeySize.
var ErrKeyTooShort = errors.New("fingerprint key too short")

// Binder computes the keyed family fingerprint carried inside refresh tokens.
type Binder struct {
	key []byte
}

// NewBinder copies key and returns a Binder.
func NewBinder(key []byte) (*Binder, error) {
	if len(key) < MinKeySize {
		return nil, ErrKeyTooShort
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Binder{key: k}, nil
}

// Fingerprint returns HMAC-SHA256(key, userID | deviceID | familyID), base64url encoded.
func (b *Binder) Fingerprint(userID, deviceID, familyID string) string {
	mac := hmac.New(sha256.New, b.key)
	writeField(mac, userID)
	writeField(mac, deviceID)
	writeField(mac, familyID)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the fingerprint and compares it in constant time.
func (b *Binder) Verify(fingerprint, userID, deviceID, familyID string) bool {
	return Equal(fingerprint, b.Fingerprint(userID, deviceID, familyID))
}

// Equal compares two encoded fingerprints in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// writeField length-prefixes v so ("ab","c") and ("a","bc") hash differently.
func writeField(h hash.Hash, v string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(v)))
	h.Write(n[:])
	h.Write([]byte(v))
}
