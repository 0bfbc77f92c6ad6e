package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const issuer = "https://idp.example.com"

func signIDToken(t *testing.T, key *rsa.PrivateKey, aud string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   issuer,
		"aud":   aud,
		"sub":   "user-42",
		"email": "u@example.com",
		"iat":   time.Now().Unix(),
		"exp":   exp.Unix(),
	})
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestStaticVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewStaticVerifier(issuer, "cloudstore", &key.PublicKey)
	ctx := context.Background()

	tok, err := v.Verify(ctx, signIDToken(t, key, "cloudstore", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	var claims map[string]interface{}
	require.NoError(t, tok.Claims(&claims))
	assert.Equal(t, "user-42", claims["sub"])
	assert.Equal(t, Mode, claims["mode"])

	_, err = v.Verify(ctx, signIDToken(t, key, "someone-else", time.Now().Add(time.Hour)))
	assert.Error(t, err)
	_, err = v.Verify(ctx, signIDToken(t, key, "cloudstore", time.Now().Add(-time.Hour)))
	assert.Error(t, err)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = v.Verify(ctx, signIDToken(t, other, "cloudstore", time.Now().Add(time.Hour)))
	assert.Error(t, err)
}
