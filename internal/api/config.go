package api

import "github.com/cloudstore/cloudstore-go/internal/config"

// NewClientFromConfig builds a client from the CLOUDSTORE_* settings. opts
// are applied after the configured values.
func NewClientFromConfig(cfg config.ClientConfig, opts ...Option) (*Client, error) {
	base := []Option{WithMaxRetries(cfg.MaxRetries)}
	if cfg.Timeout > 0 {
		base = append(base, WithTimeout(cfg.Timeout))
	}
	return NewClient(cfg.BaseURL, cfg.APIKey, cfg.Region, append(base, opts...)...)
}
