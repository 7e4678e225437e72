package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLifetime is how long an issued session token stays valid.
const DefaultLifetime = 30 * 24 * time.Hour

var (
	ErrMissingSecret = errors.New("session secret is empty")
	ErrMalformed     = errors.New("malformed session token")
	ErrBadSignature  = errors.New("session token signature mismatch")
	ErrExpired       = errors.New("session token expired")
)

var encoding = base64.RawURLEncoding

// sessionPayload keeps the short field names so tokens issued by earlier
// deployments still verify.
type sessionPayload struct {
	Subject   string `json:"u"`
	ExpiresAt int64  `json:"exp"`
}

// Codec issues and verifies stateless session tokens of the form
// base64url(payload) "." base64url(HMAC-SHA256(secret, base64url(payload))).
type Codec struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

func NewCodec(secret string, lifetime time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Codec{secret: []byte(secret), lifetime: lifetime, now: time.Now}, nil
}

func (c *Codec) Lifetime() time.Duration {
	return c.lifetime
}

// Issue mints a token for subject expiring one lifetime from now.
func (c *Codec) Issue(subject string) (string, error) {
	payload, err := json.Marshal(sessionPayload{
		Subject:   subject,
		ExpiresAt: c.now().Add(c.lifetime).Unix(),
	})
	if err != nil {
		return "", err
	}
	encoded := encoding.EncodeToString(payload)
	signature, err := c.sign(encoded)
	if err != nil {
		return "", err
	}
	return encoded + "." + signature, nil
}

// Verify returns the token's subject, or one of ErrMalformed, ErrBadSignature
// or ErrExpired. The signature is checked before the payload is parsed.
func (c *Codec) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrMalformed
	}
	encoded, provided := parts[0], parts[1]

	expected, err := c.sign(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(provided) != len(expected) ||
		subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return "", ErrBadSignature
	}

	raw, err := encoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformed
	}
	var fields struct {
		Subject   *string  `json:"u"`
		ExpiresAt *float64 `json:"exp"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", ErrMalformed
	}
	if fields.Subject == nil || *fields.Subject == "" || fields.ExpiresAt == nil {
		return "", ErrMalformed
	}
	if *fields.ExpiresAt < float64(c.now().Unix()) {
		return "", ErrExpired
	}
	return *fields.Subject, nil
}

// Identify collapses every verification failure into a single "no identity"
// outcome. The reason is returned separately for server-side logging only.
func (c *Codec) Identify(token string) (subject string, ok bool, reason error) {
	if token == "" {
		return "", false, nil
	}
	subject, err := c.Verify(token)
	if err != nil {
		return "", false, err
	}
	return subject, true, nil
}

func (c *Codec) sign(data string) (string, error) {
	mac, err := jwt.SigningMethodHS256.Sign(data, c.secret)
	if err != nil {
		return "", err
	}
	return encoding.EncodeToString(mac), nil
}
