package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClaimsKey is the gin context key holding the verified claims map.
const ClaimsKey = "claims"

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, raw string) (Token, error)

func (f VerifierFunc) Verify(ctx context.Context, raw string) (Token, error) { return f(ctx, raw) }

// Chain tries each verifier in order and returns the first success. When all
// fail the errors are joined.
func Chain(verifiers ...Verifier) Verifier {
	return VerifierFunc(func(ctx context.Context, raw string) (Token, error) {
		var errs []error
		for _, v := range verifiers {
			if v == nil {
				continue
			}
			tok, err := v.Verify(ctx, raw)
			if err == nil {
				return tok, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return nil, errors.New("no verifier configured")
		}
		return nil, errors.Join(errs...)
	})
}

// AuthMiddleware returns a Gin middleware that verifies Bearer tokens using the provided verifier
func AuthMiddleware(ver Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		var token string
		if n, _ := fmt.Sscanf(auth, "Bearer %s", &token); n != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}

		verified, err := ver.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "details": err.Error()})
			return
		}

		var claims map[string]interface{}
		if err := verified.Claims(&claims); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "failed to parse claims"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// Claims returns the verified claims, or nil before AuthMiddleware ran.
func Claims(c *gin.Context) map[string]interface{} {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]interface{})
	return m
}

// scopeRank orders scopes so that admin implies write implies read.
var scopeRank = map[string]int{"read": 1, "write": 2, "admin": 3}

// RequireScope rejects requests whose best token scope ranks below min. The
// scope claim may list several space-separated scopes; tokens without one
// (e.g. OIDC ID tokens) are treated as read.
func RequireScope(min string) gin.HandlerFunc {
	need := scopeRank[min]
	return func(c *gin.Context) {
		scope, _ := Claims(c)["scope"].(string)
		have := scopeRank["read"]
		for _, s := range strings.Fields(scope) {
			if r := scopeRank[s]; r > have {
				have = r
			}
		}
		if have < need {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope", "required": min})
			return
		}
		c.Next()
	}
}
