package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudstore/cloudstore-go/internal/database"
	"github.com/cloudstore/cloudstore-go/internal/storage"
	"github.com/cloudstore/cloudstore-go/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Client    ClientConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	MinIO     storage.MinIOConfig
	OAuth     OAuthConfig
	OIDC      OIDCConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	LogLevel  string
	// APIKeys is the allow list accepted by the dev server. Empty means any
	// well-formed key.
	APIKeys []string
	// ServiceAccountFiles are credentials files whose keys the dev server
	// trusts for the service_account grant.
	ServiceAccountFiles []string
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Addr is the listen address.
func (s ServerConfig) Addr() string { return s.Host + ":" + s.Port }

// ClientConfig holds defaults for API clients built from the environment.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Region     string
	Timeout    time.Duration
	MaxRetries int
}

type DatabaseConfig struct {
	URL     string
	Timeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Enabled reports whether a Redis host is configured.
func (r RedisConfig) Enabled() bool { return r.Host != "" }

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
}

type OIDCConfig struct {
	Issuer   string
	ClientID string
}

type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
}

type RateLimitConfig struct {
	Enabled  bool
	RPS      float64
	Burst    int
	UseRedis bool
	Window   time.Duration
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("CLOUDSTORE_REGION", "us-east-1")
	viper.SetDefault("CLOUDSTORE_TIMEOUT", 30)
	viper.SetDefault("CLOUDSTORE_MAX_RETRIES", 3)
	viper.SetDefault("CLOUDSTORE_DATABASE_URL", "cloudstore://localhost:7700/default")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("MINIO_BUCKET", "cloudstore")
	viper.SetDefault("JWT_ACCESS_TOKEN_TTL", 60)
	viper.SetDefault("RATE_LIMIT_RPS", 10)
	viper.SetDefault("RATE_LIMIT_BURST", 20)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	viper.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Client: ClientConfig{
			BaseURL:    viper.GetString("CLOUDSTORE_BASE_URL"),
			APIKey:     os.Getenv("CLOUDSTORE_API_KEY"),
			Region:     viper.GetString("CLOUDSTORE_REGION"),
			Timeout:    time.Duration(viper.GetInt("CLOUDSTORE_TIMEOUT")) * time.Second,
			MaxRetries: viper.GetInt("CLOUDSTORE_MAX_RETRIES"),
		},
		Database: DatabaseConfig{
			URL:     viper.GetString("CLOUDSTORE_DATABASE_URL"),
			Timeout: time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		MinIO: storage.MinIOConfig{
			Endpoint:  viper.GetString("MINIO_ENDPOINT"),
			AccessKey: viper.GetString("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    viper.GetBool("MINIO_USE_SSL"),
			Bucket:    viper.GetString("MINIO_BUCKET"),
		},
		OAuth: OAuthConfig{
			ClientID:     viper.GetString("OAUTH_CLIENT_ID"),
			ClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
		},
		OIDC: OIDCConfig{
			Issuer:   viper.GetString("OIDC_ISSUER"),
			ClientID: viper.GetString("OIDC_CLIENT_ID"),
		},
		JWT: JWTConfig{
			Secret:         os.Getenv("JWT_SECRET"),
			AccessTokenTTL: time.Duration(viper.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:  viper.GetBool("RATE_LIMIT_ENABLED"),
			RPS:      viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:    viper.GetInt("RATE_LIMIT_BURST"),
			UseRedis: viper.GetBool("RATE_LIMIT_USE_REDIS"),
			Window:   time.Duration(viper.GetInt("RATE_LIMIT_WINDOW_SECONDS")) * time.Second,
		},
		LogLevel: viper.GetString("LOG_LEVEL"),
		APIKeys:  splitList(viper.GetString("CLOUDSTORE_API_KEYS")),

		ServiceAccountFiles: splitList(viper.GetString("SERVICE_ACCOUNT_FILES")),
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("SERVER_PORT is required"))
	}
	if _, err := database.ParseConnectionString(c.Database.URL); err != nil {
		errs = append(errs, fmt.Errorf("CLOUDSTORE_DATABASE_URL: %w", err))
	}
	if c.Database.Timeout <= 0 {
		errs = append(errs, errors.New("MONGODB_TIMEOUT must be positive"))
	}
	if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters"))
	}
	if c.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("JWT_ACCESS_TOKEN_TTL must be positive"))
	}
	if c.MinIO.Enabled() {
		if err := c.MinIO.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if (c.OAuth.ClientID == "") != (c.OAuth.ClientSecret == "") {
		errs = append(errs, errors.New("OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET must be set together"))
	}
	if c.OIDC.Issuer != "" && c.OIDC.ClientID == "" {
		errs = append(errs, errors.New("OIDC_CLIENT_ID is required when OIDC_ISSUER is set"))
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
		}
		if c.RateLimit.UseRedis && !c.Redis.Enabled() {
			errs = append(errs, errors.New("RATE_LIMIT_USE_REDIS requires REDIS_HOST"))
		}
	}
	for _, k := range c.APIKeys {
		if !utils.ValidateAPIKey(k) {
			errs = append(errs, fmt.Errorf("CLOUDSTORE_API_KEYS: malformed key %q", maskKey(k)))
		}
	}
	if c.Client.APIKey != "" && !utils.ValidateAPIKey(c.Client.APIKey) {
		errs = append(errs, errors.New("CLOUDSTORE_API_KEY is malformed"))
	}
	return errors.Join(errs...)
}

func maskKey(k string) string {
	if len(k) <= 6 {
		return "***"
	}
	return k[:6] + "***"
}
