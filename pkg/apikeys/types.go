// Package apikeys issues and validates machine credentials. Keys are
// random, stored only as a SHA-256 hash, and shown in plaintext exactly
// once at issuance.
package apikeys

import (
	"errors"
	"time"
)

// Validation failures stay distinct internally for logging and metrics;
// the HTTP boundary collapses all three into one generic message so a
// caller cannot probe which keys exist.
var (
	ErrKeyNotFound = errors.New("api key not found")
	ErrKeyInactive = errors.New("api key revoked")
	ErrKeyExpired  = errors.New("api key expired")
)

// Key is the stored record of an issued credential. The secret itself is
// never persisted; DisplayPrefix exists so admins can tell keys apart and
// must never be used for lookup or authorization.
type Key struct {
	ID                 int64      `json:"id"`
	TenantCode         string     `json:"tenant_code"`
	DisplayPrefix      string     `json:"display_prefix"`
	Description        string     `json:"description,omitempty"`
	CreatedBy          *int64     `json:"created_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	Active             bool       `json:"active"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	UsageCount         int64      `json:"usage_count"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
}

// IssueOptions controls a new key's lifetime and throttle
type IssueOptions struct {
	Description        string     `json:"description,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute,omitempty"`
}

// IssuedKey pairs the stored record with the one-time plaintext secret
type IssuedKey struct {
	Key    *Key   `json:"key"`
	Secret string `json:"secret"`
}
