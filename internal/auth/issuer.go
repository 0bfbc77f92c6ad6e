package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudstore/cloudstore-go/internal/sessions"
	"github.com/cloudstore/cloudstore-go/internal/utils"
	"github.com/cloudstore/cloudstore-go/pkg/metrics"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
	Mode  string `json:"mode"`
}

// Issuer signs HS256 access tokens. With a session service it also records
// refresh grants and only honours refresh tokens it issued; with a blacklist
// it revokes the previous access token on refresh.
type Issuer struct {
	secret    []byte
	sessions  *sessions.Service
	blacklist *sessions.Blacklist
	accounts  ServiceAccountKeys
	now       func() time.Time
}

type IssuerOption func(*Issuer)

// WithSessions makes refresh tokens stateful and single-use.
func WithSessions(s *sessions.Service) IssuerOption {
	return func(i *Issuer) { i.sessions = s }
}

// WithBlacklist enables access-token revocation.
func WithBlacklist(b *sessions.Blacklist) IssuerOption {
	return func(i *Issuer) { i.blacklist = b }
}

// WithServiceAccounts makes service-account authentication check assertions
// against keys registered here instead of the secret in the presented file.
func WithServiceAccounts(keys ServiceAccountKeys) IssuerOption {
	return func(i *Issuer) {
		i.accounts = ServiceAccountKeys{}
		for id, k := range keys {
			i.accounts[id] = k
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

const minSecretLen = 32

func NewIssuer(secret []byte, opts ...IssuerOption) (*Issuer, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("%w: signing secret must be at least %d bytes", ErrValidation, minSecretLen)
	}
	i := &Issuer{secret: append([]byte(nil), secret...), now: time.Now}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

var (
	defaultMu     sync.RWMutex
	defaultIssuer *Issuer
)

func init() {
	secret := make([]byte, minSecretLen)
	if _, err := rand.Read(secret); err != nil {
		panic(fmt.Sprintf("auth: seed default issuer: %v", err))
	}
	defaultIssuer, _ = NewIssuer(secret)
}

// Default returns the issuer used by the package-level functions.
func Default() *Issuer {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultIssuer
}

// SetDefault replaces the issuer used by the package-level functions.
func SetDefault(i *Issuer) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultIssuer = i
}

// APIKeyAuth exchanges an API key for a token with the requested scope
// (empty means read).
func APIKeyAuth(apiKey, scope string) (Token, error) {
	return Default().APIKeyAuth(context.Background(), apiKey, scope)
}

// ServiceAccountAuth exchanges a service-account credentials file for an
// admin-scoped token.
func ServiceAccountAuth(credentialsFile string) (Token, error) {
	return Default().ServiceAccountAuth(context.Background(), credentialsFile)
}

// Refresh issues a new token that keeps the scope of token.
func Refresh(token Token) (Token, error) {
	return Default().Refresh(context.Background(), token)
}

func (i *Issuer) issue(ctx context.Context, subject, scope, mode string, ttl int) (Token, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "cloudstore",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttl) * time.Second)),
			ID:        utils.GenerateID("tok"),
		},
		Scope: scope,
		Mode:  mode,
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign access token: %w", err)
	}

	var refresh string
	if i.sessions != nil {
		refresh, err = i.sessions.CreateSession(ctx, subject, scope, mode, sessions.DefaultRefreshTTL)
	} else {
		refresh, err = sessions.NewRefreshToken()
	}
	if err != nil {
		return Token{}, fmt.Errorf("create refresh token: %w", err)
	}
	metrics.TokensIssued.WithLabelValues(mode).Inc()
	return Token{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    ttl,
		TokenType:    DefaultTokenType,
		Scope:        scope,
	}, nil
}

// IssueToken signs a token for an already authenticated subject. The dev
// server uses it for its OAuth token endpoint.
func (i *Issuer) IssueToken(ctx context.Context, subject, scope, mode string, ttl int) (Token, error) {
	if subject == "" {
		return Token{}, fmt.Errorf("%w: subject required", ErrValidation)
	}
	if ttl <= 0 {
		return Token{}, fmt.Errorf("%w: ttl must be positive", ErrValidation)
	}
	return i.issue(ctx, subject, scope, mode, ttl)
}

// APIKeySubject derives a stable subject from a key without embedding it.
func APIKeySubject(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "key_" + hex.EncodeToString(sum[:8])
}

func (i *Issuer) APIKeyAuth(ctx context.Context, apiKey, scope string) (Token, error) {
	if !strings.HasPrefix(apiKey, utils.APIKeyPrefix) {
		return Token{}, fmt.Errorf("%w: API key must start with %q", ErrValidation, utils.APIKeyPrefix)
	}
	if scope == "" {
		scope = ScopeRead
	}
	if !ValidScope(scope) {
		return Token{}, fmt.Errorf("%w: invalid scope: %s", ErrValidation, scope)
	}
	return i.issue(ctx, APIKeySubject(apiKey), scope, ModeAPIKey, APIKeyTTL)
}

func (i *Issuer) ServiceAccountAuth(ctx context.Context, credentialsFile string) (Token, error) {
	creds, err := LoadServiceAccountCredentials(credentialsFile)
	if err != nil {
		return Token{}, err
	}
	return i.ServiceAccountToken(ctx, creds)
}

// ServiceAccountToken authenticates already loaded credentials.
func (i *Issuer) ServiceAccountToken(ctx context.Context, creds ServiceAccountCredentials) (Token, error) {
	if err := creds.validate(); err != nil {
		return Token{}, err
	}
	if i.accounts != nil {
		return i.AssertionToken(ctx, creds.Assertion)
	}
	if err := creds.Verify(); err != nil {
		return Token{}, err
	}
	return i.issue(ctx, creds.ClientID, ScopeAdmin, ModeServiceAccount, ServiceAccountTTL)
}

// AssertionToken issues an admin token for a service-account assertion
// signed with a registered key.
func (i *Issuer) AssertionToken(ctx context.Context, assertion string) (Token, error) {
	if len(i.accounts) == 0 {
		return Token{}, &AuthenticationError{Reason: "no service accounts registered"}
	}
	clientID, err := i.accounts.Authenticate(assertion)
	if err != nil {
		return Token{}, err
	}
	return i.issue(ctx, clientID, ScopeAdmin, ModeServiceAccount, ServiceAccountTTL)
}

// Refresh rotates token. Without a session service any non-empty refresh
// token is accepted; subject and scope come from the old access token when
// this issuer signed it, otherwise the subject is "anonymous" and the given
// scope must be valid. With a session service both come from the session.
func (i *Issuer) Refresh(ctx context.Context, token Token) (Token, error) {
	if token.RefreshToken == "" {
		return Token{}, fmt.Errorf("%w: token must have a refresh_token to be refreshed", ErrValidation)
	}
	subject, scope := "anonymous", token.Scope
	if c, ok := i.claimsOf(token.AccessToken); ok {
		subject, scope = c.Subject, c.Scope
	} else if i.sessions == nil && !validScopes(scope) {
		return Token{}, fmt.Errorf("%w: invalid scope: %q", ErrValidation, scope)
	}

	if i.sessions != nil {
		sess, err := i.sessions.ValidateRefresh(ctx, token.RefreshToken)
		if err != nil {
			return Token{}, fmt.Errorf("validate refresh token: %w", err)
		}
		if sess == nil {
			return Token{}, &AuthenticationError{Reason: "unknown or expired refresh token"}
		}
		if err := i.sessions.DeleteRefresh(ctx, token.RefreshToken); err != nil {
			return Token{}, fmt.Errorf("revoke refresh token: %w", err)
		}
		subject, scope = sess.Subject, sess.Scope
	}
	if token.AccessToken != "" {
		if err := i.Revoke(ctx, token.AccessToken); err != nil {
			return Token{}, err
		}
	}
	return i.issue(ctx, subject, scope, ModeRefresh, RefreshTTL)
}

// claimsOf reads the claims of an access token signed by this issuer,
// ignoring expiry since refresh usually happens after it.
func (i *Issuer) claimsOf(raw string) (*Claims, bool) {
	if raw == "" {
		return nil, false
	}
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, i.keyFunc, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil || c.Subject == "" {
		return nil, false
	}
	return &c, true
}

func (i *Issuer) keyFunc(*jwt.Token) (interface{}, error) { return i.secret, nil }

// Verify validates signature, expiry and revocation of an access token.
func (i *Issuer) Verify(ctx context.Context, raw string) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, &AuthenticationError{Reason: "invalid access token", Err: err}
	}
	revoked, err := i.blacklist.Contains(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, &AuthenticationError{Reason: "access token revoked"}
	}
	return &c, nil
}

// Revoke blacklists an access token for the rest of its lifetime. Tokens not
// signed by this issuer are ignored.
func (i *Issuer) Revoke(ctx context.Context, raw string) error {
	if i.blacklist == nil {
		return nil
	}
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, i.keyFunc, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil
	}
	ttl := time.Hour
	if c.ExpiresAt != nil {
		ttl = c.ExpiresAt.Sub(i.now())
	}
	if ttl <= 0 {
		return nil
	}
	if err := i.blacklist.Add(ctx, raw, ttl); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}
