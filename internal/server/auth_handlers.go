package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/cloudstore/cloudstore-go/internal/auth"
	"github.com/gin-gonic/gin"
)

// oauthToken implements the client-credentials grant (RFC 6749 §4.4).
func (s *Server) oauthToken(c *gin.Context) {
	if c.PostForm("grant_type") != "client_credentials" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
		return
	}
	id, secret, ok := c.Request.BasicAuth()
	if !ok {
		id, secret = c.PostForm("client_id"), c.PostForm("client_secret")
	}
	want, known := s.opts.OAuthClients[id]
	if id == "" || !known || subtle.ConstantTimeCompare([]byte(want), []byte(secret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		return
	}
	scope := c.PostForm("scope")
	if scope == "" {
		scope = auth.DefaultOAuthScope
	}
	tok, err := s.issuer.IssueToken(c.Request.Context(), id, scope, auth.ModeOAuth, auth.OAuthTTL)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	APIKey    string `json:"api_key"`
	Scope     string `json:"scope"`
	Assertion string `json:"assertion"`
}

// issueToken exchanges an API key (default) or a service-account assertion.
// Assertions are checked against the issuer's registered keys.
func (s *Server) issueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	var (
		tok auth.Token
		err error
	)
	switch req.GrantType {
	case "", "api_key":
		if req.APIKey != "" && len(s.apiKeys) > 0 && !s.keyAllowed(req.APIKey) {
			abortWithError(c, &auth.AuthenticationError{Reason: "API key not recognised"})
			return
		}
		tok, err = s.issuer.APIKeyAuth(ctx, req.APIKey, req.Scope)
	case "service_account":
		if req.Assertion == "" {
			badRequest(c, "assertion required")
			return
		}
		tok, err = s.issuer.AssertionToken(ctx, req.Assertion)
	default:
		badRequest(c, "unsupported grant_type")
		return
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (s *Server) refreshToken(c *gin.Context) {
	var req auth.Token
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	tok, err := s.issuer.Refresh(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}
