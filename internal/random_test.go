package internal

import (
	"encoding/base64"
	"testing"
)

func TestNewNonceUniqueAndEncoded(t *testing.T) {
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		n, err := NewNonce()
		if err != nil {
			t.Fatalf("nonce: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(n)
		if err != nil {
			t.Fatalf("nonce is not base64url: %v", err)
		}
		if len(raw) != nonceSize {
			t.Fatalf("expected %d bytes, got %d", nonceSize, len(raw))
		}
		if _, dup := seen[n]; dup {
			t.Fatalf("duplicate nonce %q", n)
		}
		seen[n] = struct{}{}
	}
}

func TestNewKeyLength(t *testing.T) {
	k, err := NewKey(32)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if len(k) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(k))
	}
}
