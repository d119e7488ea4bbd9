// Package objectstore stores attachment bytes and hands out short-lived read URLs.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"studyhub/internal/config"
)

var (
	ErrInvalidPath = errors.New("invalid object path")
	ErrNotFound    = errors.New("object not found")
)

// Store is implemented by the local filesystem and S3 backends.
type Store interface {
	Put(ctx context.Context, objectPath string, body io.Reader, size int64, contentType string) error
	// Delete removes the objects; paths that are already gone are not an error.
	Delete(ctx context.Context, objectPaths ...string) error
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

// New builds the backend selected by cfg.Driver. publicBaseURL prefixes local signed URLs.
func New(ctx context.Context, cfg config.ObjectStoreConfig, publicBaseURL string) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "local":
		return NewLocal(cfg.BaseDir, []byte(cfg.SigningKey), publicBaseURL)
	case "s3":
		return NewS3FromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported object store driver: %s", cfg.Driver)
	}
}

// cleanPath rejects absolute paths and anything escaping the namespace.
func cleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(p)
	if cleaned != p || cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}
