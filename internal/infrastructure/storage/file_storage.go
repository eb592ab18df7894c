package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/port"
)

// LocalFileStore implements port.FileStore on the local filesystem. Every
// path it hands out is confined to the upload root; stored files are written
// once and never rewritten.
type LocalFileStore struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalFileStore creates a LocalFileStore rooted at baseDir.
func NewLocalFileStore(baseDir string, logger *zap.Logger) (*LocalFileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &LocalFileStore{baseDir: baseDir, logger: logger}, nil
}

// Save writes content under a collision-resistant name and returns the
// store-relative path.
func (s *LocalFileStore) Save(ctx context.Context, originalName string, content []byte) (string, error) {
	name := fmt.Sprintf("%d_%s%s", time.Now().UnixNano(), uuid.NewString(), sanitizeExt(originalName))

	fullPath, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		s.logger.Error("failed to write file", zap.String("path", fullPath), zap.Error(err))
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	s.logger.Debug("file saved",
		zap.String("path", name),
		zap.Int("size", len(content)))
	return name, nil
}

// Read returns the content stored at the relative path.
func (s *LocalFileStore) Read(ctx context.Context, relativePath string) ([]byte, error) {
	fullPath, err := s.Resolve(relativePath)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return content, nil
}

// Resolve maps a store-relative path to an absolute one, rejecting traversal
// out of the upload root.
func (s *LocalFileStore) Resolve(relativePath string) (string, error) {
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(absBase, relativePath))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes upload directory: %s", relativePath)
	}
	return absPath, nil
}

// sanitizeExt keeps only a plausible file extension from the original name.
func sanitizeExt(originalName string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	switch ext {
	case ".pdf", ".png", ".jpg", ".jpeg":
		return ext
	default:
		return ""
	}
}

var _ port.FileStore = (*LocalFileStore)(nil)
