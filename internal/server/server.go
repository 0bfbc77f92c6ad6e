// Package server is the CloudStore development server: the /v2 REST surface
// over a database connection, a blob store and the token issuer.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cloudstore/cloudstore-go/internal/auth"
	"github.com/cloudstore/cloudstore-go/internal/database"
	"github.com/cloudstore/cloudstore-go/internal/storage"
	"github.com/cloudstore/cloudstore-go/internal/users"
	"github.com/cloudstore/cloudstore-go/internal/utils"
	"github.com/cloudstore/cloudstore-go/pkg/logger"
	"github.com/cloudstore/cloudstore-go/pkg/middleware"
	"github.com/gin-gonic/gin"
)

// Options wires the server. DB and Issuer are required.
type Options struct {
	DB     *database.Connection
	Issuer *auth.Issuer
	// Blobs defaults to an in-memory store.
	Blobs storage.BlobStore
	// OIDC, when set, also accepts ID tokens from an external provider.
	OIDC middleware.Verifier
	// OAuthClients maps client_id to client_secret for /oauth/token.
	OAuthClients map[string]string
	// APIKeys restricts accepted API keys. Empty accepts any well-formed key.
	APIKeys []string
	// RateLimit runs after authentication so limits are per subject.
	RateLimit gin.HandlerFunc
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	// Checks are extra readiness probes keyed by dependency name.
	Checks map[string]func(context.Context) error
	// RequestLog enables gin's request logger.
	RequestLog bool
}

type Server struct {
	opts    Options
	db      *database.Connection
	issuer  *auth.Issuer
	blobs   storage.BlobStore
	users   *users.Service
	apiKeys map[string]struct{}
	engine  *gin.Engine
	started time.Time
}

func New(o Options) (*Server, error) {
	if o.DB == nil {
		return nil, errors.New("server: database connection required")
	}
	if o.Issuer == nil {
		return nil, errors.New("server: token issuer required")
	}
	if o.Blobs == nil {
		o.Blobs = storage.NewMemoryStore()
	}
	s := &Server{
		opts:    o,
		db:      o.DB,
		issuer:  o.Issuer,
		blobs:   o.Blobs,
		users:   users.NewService(o.DB),
		apiKeys: map[string]struct{}{},
		started: time.Now(),
	}
	for _, k := range o.APIKeys {
		s.apiKeys[k] = struct{}{}
	}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	if s.opts.RequestLog {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "healthy") })
	r.GET("/ready", s.ready)
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}
	registerSwagger(r)

	limit := func(c *gin.Context) { c.Next() }
	if s.opts.RateLimit != nil {
		limit = s.opts.RateLimit
	}

	r.POST("/oauth/token", limit, s.oauthToken)
	a := r.Group("/v2/auth", limit)
	a.POST("/token", s.issueToken)
	a.POST("/refresh", s.refreshToken)

	v2 := r.Group("/v2", middleware.AuthMiddleware(s.verifier()), limit)
	read := middleware.RequireScope(auth.ScopeRead)
	write := middleware.RequireScope(auth.ScopeWrite)
	admin := middleware.RequireScope(auth.ScopeAdmin)

	v2.POST("/documents", write, s.createDocuments)
	v2.GET("/documents", read, s.findDocuments)
	v2.GET("/documents/:id", read, s.getDocument)
	v2.PUT("/documents/:id", write, s.putDocument)
	v2.PATCH("/documents/:id", write, s.patchDocument)
	v2.DELETE("/documents/:id", write, s.deleteDocument)

	v2.GET("/collections", read, s.listCollections)
	v2.POST("/collections/:name/indexes", admin, s.createIndex)

	v2.GET("/users/me", read, s.me)

	v2.POST("/files", write, s.uploadFile)
	v2.GET("/files/:id", read, s.downloadFile)
	v2.GET("/files/:id/url", read, s.fileURL)
	v2.DELETE("/files/:id", write, s.deleteFile)

	v2.POST("/webhooks", write, s.createWebhook)
	v2.GET("/webhooks", read, s.listWebhooks)
	v2.DELETE("/webhooks/:id", write, s.deleteWebhook)
	return r
}

func (s *Server) ready(c *gin.Context) {
	deps := map[string]bool{"database": s.db.State() == database.StateConnected}
	for name, check := range s.opts.Checks {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		deps[name] = check(ctx) == nil
		cancel()
	}
	status, code := "ready", http.StatusOK
	for _, ok := range deps {
		if !ok {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(s.started).Round(time.Second).String()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var ae *auth.AuthenticationError
	switch {
	case errors.As(err, &ae):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrValidation),
		errors.Is(err, database.ErrValidation),
		errors.Is(err, database.ErrInvalidCursor),
		errors.Is(err, utils.ErrInvalidPage),
		errors.Is(err, utils.ErrInvalidPageSize):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrConstraintViolation):
		return http.StatusConflict
	case errors.Is(err, database.ErrConnectionClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg, "request_id": c.GetString(middleware.RequestIDKey)})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "request_id": c.GetString(middleware.RequestIDKey)})
}
