package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Storage is a keyed blob store. Keys are caller-owned so that result
// documents land at a deterministic path and are never overwritten in place.
type Storage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
}

// UploadKey builds the blob key for an uploaded artifact:
// uploads/{owner-or-anonymous}/{epochMillis}-{sanitizedName}.
func UploadKey(owner, filename string, now time.Time) string {
	if owner == "" {
		owner = "anonymous"
	}
	return fmt.Sprintf("uploads/%s/%d-%s", owner, now.UnixMilli(), sanitizeName(filename))
}

// ResultKey builds the blob key for a job's extraction result document.
func ResultKey(jobID string) string {
	return fmt.Sprintf("results/%s/extraction-result.json", jobID)
}

func sanitizeName(filename string) string {
	name := filepath.Base(filename)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "/", "_")
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
