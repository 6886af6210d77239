package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalBackend_PutAndStat(t *testing.T) {
	b := NewLocalBackend("local-test", t.TempDir(), zap.NewNop())
	ctx := context.Background()

	data := []byte("nightly database dump")
	require.NoError(t, b.Put(ctx, "backups", "db-2026-08-30", bytes.NewReader(data)))

	info, err := b.Stat(ctx, "backups", "db-2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.SizeBytes)

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), info.Checksum)
	assert.False(t, info.ModifiedAt.IsZero())
}

func TestLocalBackend_PutOverwrites(t *testing.T) {
	b := NewLocalBackend("local-test", t.TempDir(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "backups", "obj", bytes.NewReader([]byte("first"))))
	require.NoError(t, b.Put(ctx, "backups", "obj", bytes.NewReader([]byte("second version"))))

	info, err := b.Stat(ctx, "backups", "obj")
	require.NoError(t, err)
	assert.Equal(t, int64(len("second version")), info.SizeBytes)
}

func TestLocalBackend_StatMissingObject(t *testing.T) {
	b := NewLocalBackend("local-test", t.TempDir(), zap.NewNop())
	_, err := b.Stat(context.Background(), "backups", "missing")
	require.Error(t, err)
}

func TestLocalBackend_Probe(t *testing.T) {
	dir := t.TempDir()
	b := NewLocalBackend("local-test", dir, zap.NewNop())
	require.NoError(t, b.Probe(context.Background()))

	gone := NewLocalBackend("local-test", filepath.Join(dir, "missing"), zap.NewNop())
	require.Error(t, gone.Probe(context.Background()))

	file := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))
	notDir := NewLocalBackend("local-test", file, zap.NewNop())
	require.Error(t, notDir.Probe(context.Background()))
}

func TestLocalBackend_PutCancelledContext(t *testing.T) {
	b := NewLocalBackend("local-test", t.TempDir(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, b.Put(ctx, "backups", "obj", bytes.NewReader([]byte("x"))))
}
