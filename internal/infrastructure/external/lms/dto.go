// Package lms implements the LMS REST API client.
// This package handles transport, authentication and token reuse for
// every operation the assistant exposes.
package lms

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREDENTIALS
// ══════════════════════════════════════════════════════════════════════════════

// Credentials identify an LMS account. They are never logged in plaintext.
type Credentials struct {
	Identifier string
	Secret     string
}

// IsZero reports whether neither field is set.
func (c Credentials) IsZero() bool {
	return c.Identifier == "" && c.Secret == ""
}

// CacheKey is a BLAKE2b-256 digest over both fields, used to key token caches.
func (c Credentials) CacheKey() string {
	sum := blake2b.Sum256([]byte(c.Identifier + "\x00" + c.Secret))
	return hex.EncodeToString(sum[:])
}

// Fingerprint is a short digest of the identifier, safe to log.
func (c Credentials) Fingerprint() string {
	sum := blake2b.Sum256([]byte(c.Identifier))
	return hex.EncodeToString(sum[:4])
}

// String hides both fields from fmt verbs.
func (c Credentials) String() string {
	return "credentials(" + c.Fingerprint() + ")"
}

// LogValue hides both fields from slog.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("fp", c.Fingerprint()))
}

// ══════════════════════════════════════════════════════════════════════════════
// TOKEN DTOs
// ══════════════════════════════════════════════════════════════════════════════

// TokenRequestDTO is the body of POST /token/.
type TokenRequestDTO struct {
	NationalCode string `json:"national_code"`
	Password     string `json:"password"`
}

// DefaultTokenLifetime applies when the token endpoint omits expires_in.
const DefaultTokenLifetime = 3600

// TokenResponseDTO is the body returned by the token endpoint.
type TokenResponseDTO struct {
	Access    string `json:"access"`
	Refresh   string `json:"refresh,omitempty"`
	ExpiresIn *int   `json:"expires_in,omitempty"`
}

// AccessToken is the bearer token handed to one operation.
type AccessToken struct {
	Token     string    `json:"access"`
	ExpiresIn int       `json:"expires_in"`
	IssuedAt  time.Time `json:"issued_at"`

	// Cached is set when the token was served from a TokenCache.
	Cached bool `json:"-"`
}

// ExpiresAt returns the instant the LMS stops accepting the token.
func (t AccessToken) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// IsExpired checks if the token expires within skew of now.
func (t AccessToken) IsExpired(now time.Time, skew time.Duration) bool {
	return !now.Add(skew).Before(t.ExpiresAt())
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// ListResponseDTO is the envelope of LMS list endpoints.
type ListResponseDTO struct {
	Count    *int            `json:"count,omitempty"`
	Next     *string         `json:"next,omitempty"`
	Previous *string         `json:"previous,omitempty"`
	Results  json.RawMessage `json:"results"`
}

// APIErrorDTO represents an error body returned by the LMS.
type APIErrorDTO struct {
	Detail  string `json:"detail,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Text returns the most specific message present.
func (e APIErrorDTO) Text() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Message != "":
		return e.Message
	default:
		return e.Code
	}
}
