package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MrEthical07/goRotate/internal"
)

// SigningMethod selects the JWS algorithm used for both token types.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

var (
	// ErrExpired is returned when exp is in the past. There is no grace window.
	ErrExpired = errors.New("token expired")
	// ErrMalformed covers bad encoding, bad signature, unknown kid and missing claims.
	ErrMalformed = errors.New("token malformed")
	// ErrWrongType is returned when the type claim does not match the expected token type.
	ErrWrongType = errors.New("token type mismatch")
	// ErrWrongAudience is returned when the aud claim does not contain the configured audience.
	ErrWrongAudience = errors.New("token audience mismatch")
)

// Config holds key material and lifetimes for a Codec.
//
// Config values are read once by NewCodec and must not be mutated afterwards.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Codec signs and verifies access and refresh tokens.
//
// Codec is pure: it performs no I/O and is safe for concurrent use.
type Codec struct {
	config Config
	now    func() time.Time
}

// RefreshSpec describes the content of a refresh token to be issued.
type RefreshSpec struct {
	UserID      string
	DeviceID    string
	FamilyID    string
	TokenID     string
	Generation  uint64
	Fingerprint string
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("ed25519 requires private key")
		}
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) == 0 {
			cfg.PublicKey = priv.Public().(ed25519.PublicKey)
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Codec{config: cfg, now: now}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.config.AccessTTL }

// RefreshTTL reports the configured refresh-token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.config.RefreshTTL }

// IssueAccess signs a stateless access token for userID. sessionID is carried as sid.
func (c *Codec) IssueAccess(userID, role, sessionID string) (string, AccessClaims, error) {
	nonce, err := internal.NewNonce()
	if err != nil {
		return "", AccessClaims{}, err
	}
	now := c.now()
	claims := AccessClaims{
		Role:      role,
		Type:      TypeAccess,
		SessionID: sessionID,
		Nonce:     nonce,
		RegisteredClaims: c.registered(userID, uuid.NewString(), now, now.Add(c.config.AccessTTL)),
	}
	signed, err := c.sign(claims)
	if err != nil {
		return "", AccessClaims{}, err
	}
	return signed, claims, nil
}

// IssueRefresh signs a refresh token embedding the token id, generation and fingerprint.
func (c *Codec) IssueRefresh(spec RefreshSpec) (string, RefreshClaims, error) {
	nonce, err := internal.NewNonce()
	if err != nil {
		return "", RefreshClaims{}, err
	}
	now := c.now()
	claims := RefreshClaims{
		DeviceID:    spec.DeviceID,
		FamilyID:    spec.FamilyID,
		TokenID:     spec.TokenID,
		Generation:  spec.Generation,
		Type:        TypeRefresh,
		Fingerprint: spec.Fingerprint,
		Nonce:       nonce,
		RegisteredClaims: c.registered(spec.UserID, spec.TokenID, now, now.Add(c.config.RefreshTTL)),
	}
	if err := claims.Validate(); err != nil {
		return "", RefreshClaims{}, err
	}
	signed, err := c.sign(claims)
	if err != nil {
		return "", RefreshClaims{}, err
	}
	return signed, claims, nil
}

// ParseAccess verifies signature, expiry, issuer, audience and the access type claim.
func (c *Codec) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(tokenStr, claims, true); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefresh verifies signature, expiry, issuer, audience and the refresh type claim.
func (c *Codec) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(tokenStr, claims, true); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefreshForRevocation is ParseRefresh without the expiry check.
// Logout must be able to kill a family whose latest token already expired.
func (c *Codec) ParseRefreshForRevocation(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(tokenStr, claims, false); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) registered(subject, id string, iat, exp time.Time) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        id,
		Issuer:    c.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	if c.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{c.config.Audience}
	}
	return rc
}

func (c *Codec) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(c.getMethod(), claims)
	if c.config.KeyID != "" {
		token.Header["kid"] = c.config.KeyID
	}
	signKey, err := c.getSignKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

type typedClaims interface {
	jwt.Claims
	Validate() error
}

func (c *Codec) parse(tokenStr string, claims typedClaims, checkExpiry bool) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.getMethod().Alg()}),
		jwt.WithTimeFunc(c.now),
	}
	if checkExpiry {
		options = append(options, jwt.WithExpirationRequired())
		if c.config.Issuer != "" {
			options = append(options, jwt.WithIssuer(c.config.Issuer))
		}
		if c.config.Audience != "" {
			options = append(options, jwt.WithAudience(c.config.Audience))
		}
	} else {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, c.keyFunc)
	if err != nil {
		return classify(err)
	}
	if !token.Valid {
		return ErrMalformed
	}

	if !checkExpiry {
		// Claims validation was skipped entirely; re-apply everything except exp.
		if err := claims.Validate(); err != nil {
			return classify(err)
		}
		if err := c.checkIssuerAudience(claims); err != nil {
			return err
		}
	}

	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return ErrMalformed
	}
	if c.config.MaxFutureIAT > 0 && iat.Time.After(c.now().Add(c.config.MaxFutureIAT)) {
		return fmt.Errorf("%w: iat too far in the future", ErrMalformed)
	}
	return nil
}

func (c *Codec) checkIssuerAudience(claims jwt.Claims) error {
	if c.config.Issuer != "" {
		iss, err := claims.GetIssuer()
		if err != nil || iss != c.config.Issuer {
			return fmt.Errorf("%w: issuer", ErrMalformed)
		}
	}
	if c.config.Audience != "" {
		aud, err := claims.GetAudience()
		if err != nil {
			return ErrMalformed
		}
		for _, a := range aud {
			if a == c.config.Audience {
				return nil
			}
		}
		return ErrWrongAudience
	}
	return nil
}

func (c *Codec) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != c.getMethod().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(c.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := c.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return c.keyBytesToVerifyKey(key)
	}

	if c.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != c.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return c.getVerifyKey()
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrWrongType):
		return ErrWrongType
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience), errors.Is(err, ErrWrongAudience):
		return ErrWrongAudience
	case errors.Is(err, ErrMalformed):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func (c *Codec) getMethod() jwt.SigningMethod {
	switch c.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (c *Codec) getSignKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodHS256:
		return c.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(c.config.PrivateKey)
	}
}

func (c *Codec) getVerifyKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodHS256:
		return c.config.PrivateKey, nil
	default:
		return parseEdPublicKey(c.config.PublicKey)
	}
}

func (c *Codec) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
