package device

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
)

// Metadata is the subset of request headers that identifies a client device.
type Metadata struct {
	UserAgent      string
	Accept         string
	AcceptLanguage string
	AcceptEncoding string
}

// MetadataFromRequest extracts device metadata from r.
func MetadataFromRequest(r *http.Request) Metadata {
	if r == nil {
		return Metadata{}
	}
	return Metadata{
		UserAgent:      r.Header.Get("User-Agent"),
		Accept:         r.Header.Get("Accept"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
	}
}

const idBytes = 16

// ID derives a stable device identifier from md.
//
// Values are trimmed and lowercased so trivial header formatting differences do not
// produce a new device. Empty metadata yields a valid, stable id.
func ID(md Metadata) string {
	h := sha256.New()
	for _, v := range []string{md.UserAgent, md.Accept, md.AcceptLanguage, md.AcceptEncoding} {
		writeField(h, strings.ToLower(strings.TrimSpace(v)))
	}
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:idBytes])
}
