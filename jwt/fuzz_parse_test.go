package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

// FuzzParseRefresh exercises the refresh parser with arbitrary token strings.
// Goal: no panics; invalid inputs must be rejected with errors.
func FuzzParseRefresh(f *testing.F) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	codec, err := NewCodec(Config{
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		Issuer:        "fuzz-test",
		KeyID:         "k1",
	})
	if err != nil {
		f.Fatal(err)
	}

	validToken, _, err := codec.IssueRefresh(RefreshSpec{
		UserID: "u", DeviceID: "d", FamilyID: "f", TokenID: "t", Fingerprint: "fp",
	})
	if err != nil {
		f.Fatal(err)
	}

	f.Add(validToken)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJFZERTQSJ9.eyJ1aWQiOiJ0ZXN0In0.invalid")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := codec.ParseRefresh(input)
		if err != nil {
			return
		}
		if claims == nil {
			t.Fatal("ParseRefresh returned nil claims without error")
		}
		if claims.Type != TypeRefresh {
			t.Fatalf("accepted token with type %q", claims.Type)
		}
	})
}
