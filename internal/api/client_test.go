package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudstore/cloudstore-go/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "cs_test_0123456789abcdef"

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithBackoff(time.Millisecond, 5*time.Millisecond)}, opts...)
	c, err := NewClient(srv.URL+"/", testKey, "eu-west-1", opts...)
	require.NoError(t, err)
	return c
}

func newServer(t *testing.T, register func(r *gin.Engine)) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", testKey, "us-east-1")
	require.ErrorIs(t, err, ErrConfig)
	_, err = NewClient("http://x", "", "us-east-1")
	require.ErrorIs(t, err, ErrConfig)
	_, err = NewClient("http://x", testKey, "")
	require.ErrorIs(t, err, ErrConfig)
	_, err = NewClient("http://x", testKey, "us-east-1", WithTimeout(0))
	require.ErrorIs(t, err, ErrConfig)
	_, err = NewClient("http://x", testKey, "us-east-1", WithMaxRetries(-1))
	require.ErrorIs(t, err, ErrConfig)

	c, err := NewClient("https://api.cloudstore.example.com/", testKey, "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "https://api.cloudstore.example.com", c.BaseURL())
	assert.Equal(t, "us-east-1", c.Region())
}

func TestVerbs(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.Use(func(c *gin.Context) {
			if c.GetHeader("Authorization") != "Bearer "+testKey || c.GetHeader(HeaderRegion) != "eu-west-1" || c.GetHeader(HeaderRequestID) == "" {
				c.AbortWithStatus(http.StatusUnauthorized)
				return
			}
			c.Next()
		})
		r.GET("/v2/documents", func(c *gin.Context) {
			c.Header(HeaderRequestID, "srv-req-1")
			c.JSON(http.StatusOK, gin.H{"collection": c.Query("collection")})
		})
		r.POST("/v2/documents", func(c *gin.Context) {
			var body map[string]any
			_ = c.ShouldBindJSON(&body)
			c.JSON(http.StatusCreated, gin.H{"echo": body})
		})
		r.PUT("/v2/documents/:id", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"id": c.Param("id")}) })
		r.PATCH("/v2/documents/:id", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"id": c.Param("id")}) })
		r.DELETE("/v2/documents/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	})
	c := newTestClient(t, srv)
	ctx := context.Background()

	res, err := c.Get(ctx, Endpoint("documents"), url.Values{"collection": {"users"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "srv-req-1", res.RequestID)
	assert.Equal(t, "users", res.Data.(map[string]any)["collection"])

	res, err = c.Post(ctx, Endpoint("documents"), map[string]any{"name": "a"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, "a", res.Data.(map[string]any)["echo"].(map[string]any)["name"])

	res, err = c.Put(ctx, Endpoint("documents", "doc_1"), map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = c.Patch(ctx, Endpoint("documents", "doc_1"), map[string]any{"x": 2})
	require.NoError(t, err)
	assert.Equal(t, "doc_1", res.Data.(map[string]any)["id"])

	res, err = c.Delete(ctx, Endpoint("documents", "doc_1"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Nil(t, res.Data)
}

func TestGet_MergesExistingQuery(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/v2/documents", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"query": c.Request.URL.Query()})
		})
	})
	res, err := newTestClient(t, srv).Get(context.Background(), "/v2/documents?collection=orders", url.Values{"limit": {"5"}})
	require.NoError(t, err)
	q := res.Data.(map[string]any)["query"].(map[string]any)
	assert.Equal(t, []any{"orders"}, q["collection"])
	assert.Equal(t, []any{"5"}, q["limit"])
}

func TestNewClientFromConfig(t *testing.T) {
	var calls int32
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/down", func(c *gin.Context) {
			atomic.AddInt32(&calls, 1)
			if c.GetHeader(HeaderRegion) != "ap-south-1" || c.GetHeader("Authorization") != "Bearer "+testKey {
				c.AbortWithStatus(http.StatusUnauthorized)
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream"})
		})
	})
	cfg := config.ClientConfig{BaseURL: srv.URL, APIKey: testKey, Region: "ap-south-1", Timeout: time.Second, MaxRetries: 1}
	c, err := NewClientFromConfig(cfg, WithBackoff(time.Millisecond, time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", c.Region())

	_, err = c.Get(context.Background(), "/down", nil)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	cfg.BaseURL = ""
	_, err = NewClientFromConfig(cfg)
	require.ErrorIs(t, err, ErrConfig)
}

func TestRetry_ServerErrorThenSuccess(t *testing.T) {
	var calls int32
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/flaky", func(c *gin.Context) {
			if atomic.AddInt32(&calls, 1) < 3 {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "busy"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"ok": true})
		})
	})
	res, err := newTestClient(t, srv).Get(context.Background(), "/flaky", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetry_Exhausted(t *testing.T) {
	var calls int32
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/down", func(c *gin.Context) {
			atomic.AddInt32(&calls, 1)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
		})
	})
	_, err := newTestClient(t, srv, WithMaxRetries(2)).Get(context.Background(), "/down", nil)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, ErrStatus)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientError_NotRetried(t *testing.T) {
	var calls int32
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/v2/documents/:id", func(c *gin.Context) {
			atomic.AddInt32(&calls, 1)
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		})
	})
	_, err := newTestClient(t, srv).Get(context.Background(), Endpoint("documents", "nope"), nil)
	require.ErrorIs(t, err, ErrStatus)
	require.False(t, errors.Is(err, ErrRetriesExhausted))
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "not found")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRateLimited_HonoursRetryAfter(t *testing.T) {
	var calls int32
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/limited", func(c *gin.Context) {
			if atomic.AddInt32(&calls, 1) == 1 {
				c.Header("Retry-After", "1")
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "slow down"})
				return
			}
			c.JSON(http.StatusOK, gin.H{})
		})
	})
	start := time.Now()
	_, err := newTestClient(t, srv).Get(context.Background(), "/limited", nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRateLimited_Exhausted(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/limited", func(c *gin.Context) { c.JSON(http.StatusTooManyRequests, gin.H{}) })
	})
	_, err := newTestClient(t, srv, WithMaxRetries(1)).Get(context.Background(), "/limited", nil)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestTimeout(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/slow", func(c *gin.Context) {
			select {
			case <-time.After(time.Second):
			case <-c.Request.Context().Done():
			}
			c.Status(http.StatusOK)
		})
	})
	_, err := newTestClient(t, srv, WithTimeout(30*time.Millisecond), WithMaxRetries(1)).Get(context.Background(), "/slow", nil)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestNetworkError(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {})
	c := newTestClient(t, srv, WithMaxRetries(1))
	srv.Close()
	_, err := c.Get(context.Background(), "/anything", nil)
	require.ErrorIs(t, err, ErrNetwork)
	require.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestCallerCancellation(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(t, srv).Get(ctx, "/x", nil)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.Is(err, ErrRetriesExhausted))
}

func TestClientSideRateLimit(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	})
	c := newTestClient(t, srv, WithRateLimit(0.1, 1))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "/x", nil)
	require.NoError(t, err)
	_, err = c.Get(ctx, "/x", nil)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestUploadFile(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.POST("/v2/files", func(c *gin.Context) {
			fh, err := c.FormFile("file")
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			f, _ := fh.Open()
			defer f.Close()
			b, _ := io.ReadAll(f)
			c.JSON(http.StatusOK, gin.H{
				"file_id":      "file_1",
				"name":         fh.Filename,
				"content_type": fh.Header.Get("Content-Type"),
				"content":      string(b),
			})
		})
	})
	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o600))
	c := newTestClient(t, srv)

	res, err := c.UploadFile(context.Background(), Endpoint("files"), path, "text/csv")
	require.NoError(t, err)
	data := res.Data.(map[string]any)
	assert.Equal(t, "file_1", data["file_id"])
	assert.Equal(t, "report.csv", data["name"])
	assert.Equal(t, "text/csv", data["content_type"])
	assert.Equal(t, "a,b\n1,2\n", data["content"])

	res, err = c.UploadFile(context.Background(), Endpoint("files"), path, "")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", res.Data.(map[string]any)["content_type"])

	_, err = c.UploadFile(context.Background(), Endpoint("files"), filepath.Join(t.TempDir(), "missing"), "")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "/v2/documents", Endpoint("documents"))
	assert.Equal(t, "/v2/webhooks/wh_1", Endpoint("webhooks", "wh_1"))
	assert.Equal(t, "/v2/files/a%2Fb", Endpoint("files", "a/b"))
	assert.Equal(t, "", Endpoint("unknown"))
	assert.Len(t, Endpoints, 5)
}
