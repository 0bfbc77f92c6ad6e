package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudstore/cloudstore-go/pkg/metrics"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is the CloudStore authorization server token endpoint.
const DefaultTokenURL = "https://auth.cloudstore.example.com/oauth/token"

// DefaultOAuthScope is requested when no scopes are given.
const DefaultOAuthScope = "read write"

type oauthOptions struct {
	tokenURL   string
	scopes     []string
	httpClient *http.Client
}

type OAuthOption func(*oauthOptions)

// WithTokenURL points the exchange at another token endpoint.
func WithTokenURL(u string) OAuthOption {
	return func(o *oauthOptions) { o.tokenURL = u }
}

// WithScopes overrides the requested scopes.
func WithScopes(scopes ...string) OAuthOption {
	return func(o *oauthOptions) { o.scopes = scopes }
}

// WithOAuthHTTPClient sets the HTTP client used for the exchange.
func WithOAuthHTTPClient(c *http.Client) OAuthOption {
	return func(o *oauthOptions) { o.httpClient = c }
}

// OAuthAuthenticate performs the client-credentials exchange. A rejection by
// the authorization server is reported as *AuthenticationError.
func OAuthAuthenticate(ctx context.Context, clientID, clientSecret, redirectURI string, opts ...OAuthOption) (Token, error) {
	if clientID == "" || clientSecret == "" {
		return Token{}, fmt.Errorf("%w: client_id and client_secret are required", ErrValidation)
	}
	o := oauthOptions{
		tokenURL:   DefaultTokenURL,
		scopes:     strings.Fields(DefaultOAuthScope),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, fn := range opts {
		fn(&o)
	}

	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     o.tokenURL,
		Scopes:       o.scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if redirectURI != "" {
		cfg.EndpointParams = url.Values{"redirect_uri": {redirectURI}}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	tok, err := cfg.Token(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			reason := re.ErrorCode
			if reason == "" {
				reason = fmt.Sprintf("token endpoint returned %d", re.Response.StatusCode)
			}
			return Token{}, &AuthenticationError{Reason: reason, Err: err}
		}
		return Token{}, fmt.Errorf("oauth token exchange: %w", err)
	}
	metrics.TokensIssued.WithLabelValues(ModeOAuth).Inc()
	return fromOAuth2(tok, strings.Join(o.scopes, " ")), nil
}

func fromOAuth2(tok *oauth2.Token, requested string) Token {
	t := Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    OAuthTTL,
		TokenType:    strings.ToLower(tok.TokenType),
		Scope:        requested,
	}
	switch {
	case tok.ExpiresIn > 0:
		t.ExpiresIn = int(tok.ExpiresIn)
	case !tok.Expiry.IsZero():
		if secs := int(time.Until(tok.Expiry).Round(time.Second).Seconds()); secs > 0 {
			t.ExpiresIn = secs
		}
	}
	if t.TokenType == "" {
		t.TokenType = DefaultTokenType
	}
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		t.Scope = s
	}
	return t
}
