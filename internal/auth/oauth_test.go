package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/oauth/token", func(c *gin.Context) {
		if c.PostForm("grant_type") != "client_credentials" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
			return
		}
		if c.PostForm("client_id") != "cid" || c.PostForm("client_secret") != "csecret" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  "at_" + c.PostForm("redirect_uri"),
			"refresh_token": "ref_1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         c.PostForm("scope"),
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestOAuthAuthenticate(t *testing.T) {
	srv := newTokenServer(t)
	tok, err := OAuthAuthenticate(context.Background(), "cid", "csecret", "https://app/cb",
		WithTokenURL(srv.URL+"/oauth/token"), WithOAuthHTTPClient(srv.Client()))
	require.NoError(t, err)
	assert.Equal(t, "at_https://app/cb", tok.AccessToken)
	assert.Equal(t, "ref_1", tok.RefreshToken)
	assert.Equal(t, 3600, tok.ExpiresIn)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.Equal(t, "read write", tok.Scope)
}

func TestOAuthAuthenticate_Rejected(t *testing.T) {
	srv := newTokenServer(t)
	_, err := OAuthAuthenticate(context.Background(), "cid", "wrong", "",
		WithTokenURL(srv.URL+"/oauth/token"))
	var ae *AuthenticationError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "invalid_client", ae.Reason)
}

func TestOAuthAuthenticate_MissingCredentials(t *testing.T) {
	_, err := OAuthAuthenticate(context.Background(), "", "x", "")
	require.ErrorIs(t, err, ErrValidation)
}
