package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CLOUDSTORE_DATABASE_URL", "memory://local:7700/test")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("JWT_SECRET", "testsecret123456789012345678901234")
	t.Setenv("CLOUDSTORE_API_KEYS", "cs_live_aaaaaaaaaaaaaaaa, cs_live_bbbbbbbbbbbbbbbb")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("SERVICE_ACCOUNT_FILES", "/etc/cloudstore/ingest.json,/etc/cloudstore/backup.json")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, "memory://local:7700/test", cfg.Database.URL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 10*time.Second, cfg.Database.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "us-east-1", cfg.Client.Region)
	assert.Equal(t, "cloudstore", cfg.MinIO.Bucket)
	assert.Equal(t, []string{"cs_live_aaaaaaaaaaaaaaaa", "cs_live_bbbbbbbbbbbbbbbb"}, cfg.APIKeys)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, []string{"/etc/cloudstore/ingest.json", "/etc/cloudstore/backup.json"}, cfg.ServiceAccountFiles)
}

func TestValidate_ReportsProblems(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{URL: "nonsense", Timeout: time.Second},
		JWT:      JWTConfig{Secret: "short", AccessTokenTTL: time.Minute},
		OAuth:    OAuthConfig{ClientID: "only-id"},
		APIKeys:  []string{"bad"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "CLOUDSTORE_DATABASE_URL")
	assert.Contains(t, msg, "JWT_SECRET")
	assert.Contains(t, msg, "OAUTH_CLIENT_SECRET")
	assert.Contains(t, msg, "CLOUDSTORE_API_KEYS")
}
