package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// LocalBackend stores objects on the local filesystem. Used for on-host
// backup targets (NAS mounts, attached volumes) and in tests.
type LocalBackend struct {
	name     string
	basePath string
	logger   *zap.Logger
}

// NewLocalBackend creates a filesystem backend rooted at basePath.
func NewLocalBackend(name, basePath string, logger *zap.Logger) *LocalBackend {
	return &LocalBackend{
		name:     name,
		basePath: basePath,
		logger:   logger,
	}
}

// Name returns the backend identifier.
func (b *LocalBackend) Name() string {
	return b.name
}

// Put stores an object under locationRef/key.
func (b *LocalBackend) Put(ctx context.Context, locationRef, key string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath := filepath.Join(b.basePath, locationRef, key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync object: %w", err)
	}

	b.logger.Debug("stored object",
		zap.String("backend", b.name),
		zap.String("path", fullPath))

	return nil
}

// Stat returns size and SHA-256 content checksum of a stored object.
func (b *LocalBackend) Stat(ctx context.Context, locationRef, key string) (ObjectInfo, error) {
	fullPath := filepath.Join(b.basePath, locationRef, key)

	info, err := os.Stat(fullPath)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat object: %w", err)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("open object: %w", err)
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return ObjectInfo{}, fmt.Errorf("checksum object: %w", err)
	}

	return ObjectInfo{
		SizeBytes:  info.Size(),
		Checksum:   hex.EncodeToString(h.Sum(nil)),
		ModifiedAt: info.ModTime(),
	}, nil
}

// Probe verifies the base path is reachable and is a directory.
func (b *LocalBackend) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Stat(b.basePath)
	if err != nil {
		return fmt.Errorf("probe %s: %w", b.basePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("probe %s: not a directory", b.basePath)
	}
	return nil
}
