package storage

import (
	"context"

	appconfig "github.com/fedutinova/timegrid/internal/config"
)

func NewStorage(ctx context.Context, cfg appconfig.Config) (Storage, error) {
	switch cfg.StorageMode {
	case "s3", "aws", "localstack":
		return NewS3Storage(ctx, cfg)
	case "local", "filesystem":
		return NewLocalStorage(cfg.LocalStorageDir, cfg.LocalStorageURL)
	default:
		return NewLocalStorage(cfg.LocalStorageDir, cfg.LocalStorageURL)
	}
}

func GetStorageType(cfg appconfig.Config) string {
	switch cfg.StorageMode {
	case "s3", "aws", "localstack":
		if cfg.S3Endpoint != "" && isLocalStackEndpoint(cfg.S3Endpoint) {
			return "LocalStack S3"
		}
		return "AWS S3"
	case "local", "filesystem":
		return "Local Filesystem"
	default:
		return "Local Filesystem (default)"
	}
}
