package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudstore/cloudstore-go/internal/auth"
	"github.com/cloudstore/cloudstore-go/internal/config"
	"github.com/cloudstore/cloudstore-go/internal/database"
	"github.com/cloudstore/cloudstore-go/internal/oidc"
	"github.com/cloudstore/cloudstore-go/internal/server"
	"github.com/cloudstore/cloudstore-go/internal/sessions"
	"github.com/cloudstore/cloudstore-go/internal/storage"
	"github.com/cloudstore/cloudstore-go/pkg/logger"
	"github.com/cloudstore/cloudstore-go/pkg/metrics"
	"github.com/cloudstore/cloudstore-go/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	if cfg.Server.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		logger.Fatalf("cloudstore-dev: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	checks := map[string]func(context.Context) error{}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis %s unreachable, continuing without it: %v", cfg.Redis.Addr(), err)
			rdb = nil
		} else {
			logger.Infof("connected to Redis at %s", cfg.Redis.Addr())
			client := rdb
			checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		}
	}

	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Infof("database %s (%s)", db.DSN(), db.State())

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	sessionsSvc, closeSessions, err := openSessions(ctx, cfg, db, rdb)
	if err != nil {
		return err
	}
	defer closeSessions()

	issuer, err := newIssuer(cfg, sessionsSvc, rdb)
	if err != nil {
		return err
	}
	auth.SetDefault(issuer)

	var oidcVerifier middleware.Verifier
	if cfg.OIDC.Issuer != "" {
		v, err := oidc.NewVerifier(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			oidcVerifier = v
			logger.Infof("accepting OIDC ID tokens from %s", cfg.OIDC.Issuer)
		}
	}

	opts := server.Options{
		DB:         db,
		Issuer:     issuer,
		Blobs:      blobs,
		OIDC:       oidcVerifier,
		APIKeys:    cfg.APIKeys,
		Metrics:    promhttp.Handler(),
		Checks:     checks,
		RequestLog: true,
	}
	if cfg.OAuth.ClientID != "" {
		opts.OAuthClients = map[string]string{cfg.OAuth.ClientID: cfg.OAuth.ClientSecret}
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && rdb != nil {
			opts.RateLimit = middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.Window)
		} else {
			opts.RateLimit = middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		}
	}
	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("cloudstore-dev listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// connectDatabase retries so the server tolerates starting before MongoDB.
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.Connection, error) {
	b := retry.WithMaxRetries(4, retry.NewExponential(time.Second))
	var db *database.Connection
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		c, err := database.Connect(cctx, cfg.URL)
		if err != nil {
			if errors.Is(err, database.ErrInvalidConnectionString) {
				return err
			}
			logger.Warnf("attempt %d: failed to connect to %s: %v", attempt, database.Redact(cfg.URL), err)
			return retry.RetryableError(err)
		}
		db = c
		return nil
	})
	return db, err
}

func openBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	if !cfg.MinIO.Enabled() {
		logger.Infof("MINIO_ENDPOINT not set; keeping uploads in memory")
		return storage.NewMemoryStore(), nil
	}
	s, err := storage.NewMinIOStorage(ctx, &cfg.MinIO)
	if err != nil {
		return nil, err
	}
	logger.Infof("storing uploads in MinIO bucket %s at %s", cfg.MinIO.Bucket, cfg.MinIO.Endpoint)
	return s, nil
}

// openSessions prefers Redis, then MongoDB when the database is Mongo, then memory.
func openSessions(ctx context.Context, cfg *config.Config, db *database.Connection, rdb *redis.Client) (*sessions.Service, func(), error) {
	noop := func() {}
	if rdb != nil {
		logger.Infof("using Redis for refresh sessions")
		return sessions.NewService(sessions.NewRedisRepository(rdb, "")), noop, nil
	}
	dsn := db.DSN()
	if dsn.Scheme == "mongodb" || dsn.Scheme == "mongodb+srv" {
		client, err := database.ConnectMongo(ctx, cfg.Database.URL, cfg.Database.Timeout)
		if err != nil {
			return nil, noop, err
		}
		repo, err := sessions.NewMongoRepository(ctx, client.Database(dsn.Database).Collection("_cloudstore_sessions"))
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, noop, err
		}
		logger.Infof("using MongoDB for refresh sessions")
		return sessions.NewService(repo), func() { _ = client.Disconnect(context.Background()) }, nil
	}
	logger.Infof("using in-memory refresh sessions")
	return sessions.NewService(sessions.NewMemoryRepository()), noop, nil
}

func newIssuer(cfg *config.Config, svc *sessions.Service, rdb *redis.Client) (*auth.Issuer, error) {
	secret := []byte(cfg.JWT.Secret)
	if len(secret) == 0 {
		logger.Warn("JWT_SECRET is not set; using an ephemeral signing key")
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
	}
	accounts := auth.ServiceAccountKeys{}
	for _, path := range cfg.ServiceAccountFiles {
		creds, err := auth.LoadServiceAccountCredentials(path)
		if err != nil {
			return nil, fmt.Errorf("service account %s: %w", path, err)
		}
		if err := creds.Verify(); err != nil {
			return nil, fmt.Errorf("service account %s: %w", path, err)
		}
		if err := accounts.Register(creds); err != nil {
			return nil, err
		}
		logger.Infof("registered service account %s (key %s)", creds.ClientID, creds.KeyID)
	}
	opts := []auth.IssuerOption{auth.WithSessions(svc), auth.WithServiceAccounts(accounts)}
	if rdb != nil {
		opts = append(opts, auth.WithBlacklist(sessions.NewBlacklist(rdb, "")))
	}
	return auth.NewIssuer(secret, opts...)
}
