package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type LocalStorage struct {
	baseDir string
	baseURL string
}

func NewLocalStorage(baseDir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		baseDir: baseDir,
		baseURL: baseURL,
	}, nil
}

func (s *LocalStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if strings.Contains(key, "..") {
		return fmt.Errorf("invalid key: %s", key)
	}
	filePath := filepath.Join(s.baseDir, key)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory structure: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	slog.Info("file uploaded to local storage", "key", key, "path", filePath, "size", len(data))
	return nil
}

func (s *LocalStorage) Get(ctx context.Context, key string) ([]byte, string, error) {
	if strings.Contains(key, "..") {
		return nil, "", fmt.Errorf("invalid key: %s", key)
	}
	filePath := filepath.Join(s.baseDir, key)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("file not found: %s", key)
		}
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("file is empty: %s", key)
	}

	return data, contentTypeForKey(key), nil
}

func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	filePath := filepath.Join(s.baseDir, key)

	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	slog.Info("file deleted from local storage", "key", key, "path", filePath)
	return nil
}

// contentTypeForKey infers a content type from the key's extension.
func contentTypeForKey(key string) string {
	switch filepath.Ext(key) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tiff", ".tif":
		return "image/tiff"
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
