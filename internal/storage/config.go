package storage

import "fmt"

// MinIOConfig holds MinIO connection configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Enabled reports whether an endpoint is configured.
func (c *MinIOConfig) Enabled() bool { return c != nil && c.Endpoint != "" }

func (c *MinIOConfig) Validate() error {
	if !c.Enabled() {
		return fmt.Errorf("minio endpoint missing")
	}
	if c.Bucket == "" {
		return fmt.Errorf("minio bucket missing")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("minio credentials missing")
	}
	return nil
}
