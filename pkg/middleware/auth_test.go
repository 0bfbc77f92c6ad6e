package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// fakeToken implements Token
type fakeToken struct {
	data map[string]interface{}
}

func (t *fakeToken) Claims(v interface{}) error {
	if mm, ok := v.(*map[string]interface{}); ok {
		*mm = t.data
		return nil
	}
	return fmt.Errorf("unsupported claims type")
}

// fakeVerifier accepts one token and reports the given scope
type fakeVerifier struct {
	good  string
	scope string
}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (Token, error) {
	if raw == f.good {
		return &fakeToken{data: map[string]interface{}{"sub": "user1", "scope": f.scope}}, nil
	}
	return nil, fmt.Errorf("invalid token")
}

func serve(g *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rw := httptest.NewRecorder()
	g.ServeHTTP(rw, req)
	return rw
}

func TestAuthMiddleware_NoHeader(t *testing.T) {
	g := gin.New()
	g.GET("/", AuthMiddleware(&fakeVerifier{good: "goodtoken"}), func(c *gin.Context) { c.Status(http.StatusOK) })
	require.Equal(t, http.StatusUnauthorized, serve(g, "").Code)
}

func TestAuthMiddleware_InvalidHeader(t *testing.T) {
	g := gin.New()
	g.GET("/", AuthMiddleware(&fakeVerifier{good: "goodtoken"}), func(c *gin.Context) { c.Status(http.StatusOK) })
	require.Equal(t, http.StatusUnauthorized, serve(g, "BadHeader").Code)
	require.Equal(t, http.StatusUnauthorized, serve(g, "Bearer wrong").Code)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	g := gin.New()
	g.GET("/", AuthMiddleware(&fakeVerifier{good: "goodtoken"}), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"claims": Claims(c)})
	})
	rw := serve(g, "Bearer goodtoken")
	require.Equal(t, http.StatusOK, rw.Code)
	var got map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &got))
	require.Equal(t, "user1", got["claims"]["sub"])
}

func TestChain(t *testing.T) {
	g := gin.New()
	ver := Chain(nil, &fakeVerifier{good: "first"}, &fakeVerifier{good: "second"})
	g.GET("/", AuthMiddleware(ver), func(c *gin.Context) { c.Status(http.StatusOK) })
	require.Equal(t, http.StatusOK, serve(g, "Bearer first").Code)
	require.Equal(t, http.StatusOK, serve(g, "Bearer second").Code)
	require.Equal(t, http.StatusUnauthorized, serve(g, "Bearer third").Code)

	_, err := Chain().Verify(context.Background(), "x")
	require.Error(t, err)
}

func TestRequireScope(t *testing.T) {
	for _, tc := range []struct {
		scope, need string
		want        int
	}{
		{"read", "read", http.StatusOK},
		{"read", "write", http.StatusForbidden},
		{"write", "write", http.StatusOK},
		{"admin", "write", http.StatusOK},
		{"", "read", http.StatusOK},
		{"", "admin", http.StatusForbidden},
		{"read write", "write", http.StatusOK},
		{"read write", "admin", http.StatusForbidden},
	} {
		g := gin.New()
		g.GET("/", AuthMiddleware(&fakeVerifier{good: "t", scope: tc.scope}), RequireScope(tc.need), func(c *gin.Context) { c.Status(http.StatusOK) })
		require.Equal(t, tc.want, serve(g, "Bearer t").Code, "scope %q need %q", tc.scope, tc.need)
	}
}

func TestRequestID(t *testing.T) {
	g := gin.New()
	g.Use(RequestID())
	g.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	rw := serve(g, "")
	id := rw.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)
	require.Equal(t, id, rw.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	rw = httptest.NewRecorder()
	g.ServeHTTP(rw, req)
	require.Equal(t, "caller-id", rw.Header().Get(RequestIDHeader))
}
