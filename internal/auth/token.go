// Package auth issues and verifies CloudStore tokens for the three
// authentication modes (OAuth client credentials, API key, service account)
// and rotates them through refresh.
package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Scopes accepted by key-based authentication.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = "admin"
)

// Authentication modes, recorded in issued tokens and sessions.
const (
	ModeOAuth          = "oauth"
	ModeAPIKey         = "api_key"
	ModeServiceAccount = "service_account"
	ModeRefresh        = "refresh"
)

// Token lifetimes in seconds.
const (
	OAuthTTL          = 3600
	APIKeyTTL         = 7200
	ServiceAccountTTL = 86400
	RefreshTTL        = 3600
)

// DefaultTokenType is the token kind reported when none is given.
const DefaultTokenType = "bearer"

var ErrValidation = errors.New("validation error")

// AuthenticationError reports that an authority refused the presented
// credentials: a rejected OAuth exchange, a bad service-account signature, or
// an unknown or revoked refresh token.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Token is an issued credential. ExpiresIn is in seconds.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// ValidScope reports whether scope is one of read, write, admin.
func ValidScope(scope string) bool {
	switch scope {
	case ScopeRead, ScopeWrite, ScopeAdmin:
		return true
	}
	return false
}

// validScopes accepts a space-separated list of known scopes, as issued by
// the OAuth token endpoint.
func validScopes(scope string) bool {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if !ValidScope(f) {
			return false
		}
	}
	return true
}
