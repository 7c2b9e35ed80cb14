package artifacts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/specialistvlad/pipegraph/internal/env"
)

// MinIOConfig holds the connection settings for the MinIO backed store.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// MinIOConfigFromEnv reads PIPEGRAPH_MINIO_* variables.
func MinIOConfigFromEnv() (MinIOConfig, error) {
	useSSL, err := env.Bool("PIPEGRAPH_MINIO_USE_SSL", false)
	if err != nil {
		return MinIOConfig{}, err
	}
	cfg := MinIOConfig{
		Endpoint:  env.String("PIPEGRAPH_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey: env.String("PIPEGRAPH_MINIO_ACCESS_KEY", ""),
		SecretKey: env.String("PIPEGRAPH_MINIO_SECRET_KEY", ""),
		Region:    env.String("PIPEGRAPH_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("PIPEGRAPH_MINIO_BUCKET", "pipegraph-artifacts"),
		Prefix:    env.String("PIPEGRAPH_MINIO_PREFIX", "manifests"),
	}
	if err := cfg.Validate(); err != nil {
		return MinIOConfig{}, err
	}
	return cfg, nil
}

func (c MinIOConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
