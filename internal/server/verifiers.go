package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/cloudstore/cloudstore-go/internal/auth"
	"github.com/cloudstore/cloudstore-go/internal/utils"
	"github.com/cloudstore/cloudstore-go/pkg/middleware"
)

type claimsToken map[string]interface{}

func (t claimsToken) Claims(v interface{}) error {
	b, err := json.Marshal(map[string]interface{}(t))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// verifier accepts, in order: raw API keys, tokens from our issuer, and OIDC
// ID tokens when configured.
func (s *Server) verifier() middleware.Verifier {
	vs := []middleware.Verifier{
		middleware.VerifierFunc(s.verifyAPIKey),
		middleware.VerifierFunc(s.verifyIssued),
	}
	if s.opts.OIDC != nil {
		vs = append(vs, s.opts.OIDC)
	}
	return middleware.Chain(vs...)
}

var errNotAPIKey = errors.New("not an API key")

func (s *Server) keyAllowed(key string) bool {
	if !utils.ValidateAPIKey(key) {
		return false
	}
	if len(s.apiKeys) == 0 {
		return true
	}
	_, ok := s.apiKeys[key]
	return ok
}

// verifyAPIKey grants admin scope to an allowed key presented directly.
func (s *Server) verifyAPIKey(_ context.Context, raw string) (middleware.Token, error) {
	if !strings.HasPrefix(raw, utils.APIKeyPrefix) {
		return nil, errNotAPIKey
	}
	if !s.keyAllowed(raw) {
		return nil, &auth.AuthenticationError{Reason: "API key not recognised"}
	}
	return claimsToken{
		"sub":   auth.APIKeySubject(raw),
		"scope": auth.ScopeAdmin,
		"mode":  auth.ModeAPIKey,
	}, nil
}

func (s *Server) verifyIssued(ctx context.Context, raw string) (middleware.Token, error) {
	c, err := s.issuer.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return claimsToken{"sub": c.Subject, "scope": c.Scope, "mode": c.Mode}, nil
}
