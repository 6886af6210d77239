package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mariia-platform/backupd/internal/alerting"
	"github.com/mariia-platform/backupd/internal/backend"
	"github.com/mariia-platform/backupd/internal/config"
	"github.com/mariia-platform/backupd/internal/metrics"
	"github.com/mariia-platform/backupd/internal/state"
)

// fakeBackend is an in-memory StorageBackend with fault injection.
type fakeBackend struct {
	mu        sync.Mutex
	name      string
	objects   map[string][]byte
	putErr    error
	putDelay  time.Duration
	probeErr  error
	checksums map[string]string // overrides the real content checksum
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{
		name:      name,
		objects:   make(map[string][]byte),
		checksums: make(map[string]string),
	}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Put(ctx context.Context, locationRef, key string, data io.Reader) error {
	f.mu.Lock()
	delay := f.putDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[locationRef+"/"+key] = buf
	return nil
}

func (f *fakeBackend) Stat(ctx context.Context, locationRef, key string) (backend.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf, ok := f.objects[locationRef+"/"+key]
	if !ok {
		return backend.ObjectInfo{}, fmt.Errorf("not found: %s/%s", locationRef, key)
	}
	checksum := f.checksums[key]
	if checksum == "" {
		sum := sha256.Sum256(buf)
		checksum = hex.EncodeToString(sum[:])
	}
	return backend.ObjectInfo{
		SizeBytes:  int64(len(buf)),
		Checksum:   checksum,
		ModifiedAt: time.Now(),
	}, nil
}

func (f *fakeBackend) Probe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr
}

func (f *fakeBackend) setPutDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putDelay = d
}

func (f *fakeBackend) setProbeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeErr = err
}

// fakeNotifier records alerts for assertions.
type fakeNotifier struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (f *fakeNotifier) Notify(ctx context.Context, alert alerting.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeNotifier) byKind(kind string) []alerting.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []alerting.Alert
	for _, a := range f.alerts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func testConfig() *config.Config {
	cfg := &config.Config{
		InstanceID: "test",
		Backends: []config.BackendConfig{
			{ID: "aws-primary", Type: "local", Role: "primary", Region: "us-east-1",
				LocationRef: "backups-primary", StorageTier: "hot"},
			{ID: "wasabi-secondary", Type: "local", Role: "secondary", Region: "eu-west-1",
				LocationRef: "backups-secondary", StorageTier: "warm"},
			{ID: "b2-tertiary", Type: "local", Role: "tertiary", Region: "us-west-2",
				LocationRef: "backups-tertiary", StorageTier: "cold"},
		},
	}
	cfg.ApplyDefaults()
	cfg.Health.ProbeInterval = 50 * time.Millisecond
	cfg.Replication.UploadTimeout = 5 * time.Second
	return cfg
}

type fixture struct {
	cfg      *config.Config
	store    state.Store
	backends map[string]*fakeBackend
	notifier *fakeNotifier
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := testConfig()
	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"), cfg.InstanceID, zap.NewNop())
	require.NoError(t, err)

	fakes := make(map[string]*fakeBackend)
	backends := make(map[string]backend.Backend)
	for _, bc := range cfg.Backends {
		f := newFakeBackend(bc.ID)
		fakes[bc.ID] = f
		backends[bc.ID] = f
	}

	notifier := &fakeNotifier{}
	mgr, err := NewManager(cfg, store, backends, notifier, metrics.New(), zap.NewNop())
	require.NoError(t, err)

	return &fixture{
		cfg:      cfg,
		store:    store,
		backends: fakes,
		notifier: notifier,
		manager:  mgr,
	}
}

// markAllHealthy simulates successful initial probes.
func (fx *fixture) markAllHealthy(t *testing.T) {
	t.Helper()
	_, err := fx.store.Update(context.Background(), func(s *state.Snapshot) error {
		for _, b := range s.Backends {
			b.Health = state.HealthHealthy
		}
		return nil
	})
	require.NoError(t, err)
}

func (fx *fixture) setHealth(t *testing.T, backendID string, h state.Health) {
	t.Helper()
	_, err := fx.store.Update(context.Background(), func(s *state.Snapshot) error {
		s.Backends[backendID].Health = h
		return nil
	})
	require.NoError(t, err)
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
