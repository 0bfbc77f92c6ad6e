// Package oidc verifies ID tokens from an external OpenID Connect provider
// so they can be used as bearer tokens against the dev server.
package oidc

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"

	"github.com/cloudstore/cloudstore-go/pkg/middleware"
	"github.com/coreos/go-oidc/v3/oidc"
)

// Mode is the "mode" claim attached to tokens verified here.
const Mode = "oidc"

// Verifier wraps the OIDC token verifier
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewVerifier discovers the provider at issuer and verifies tokens for clientID.
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return &Verifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewStaticVerifier verifies RS256 tokens against fixed public keys, without discovery.
func NewStaticVerifier(issuer, clientID string, keys ...crypto.PublicKey) *Verifier {
	ks := &oidc.StaticKeySet{PublicKeys: keys}
	return &Verifier{verifier: oidc.NewVerifier(issuer, ks, &oidc.Config{ClientID: clientID})}
}

// Verify verifies the raw ID token and returns its claims with mode set.
func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, err
	}
	if _, ok := claims["mode"]; !ok {
		claims["mode"] = Mode
	}
	return claimsToken(claims), nil
}

type claimsToken map[string]interface{}

func (t claimsToken) Claims(v interface{}) error {
	b, err := json.Marshal(map[string]interface{}(t))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
