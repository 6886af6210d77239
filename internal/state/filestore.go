package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// documentSchema guards against loading a corrupt or foreign state file.
// Validation runs on load only; writes always come from our own structs.
const documentSchema = `{
  "type": "object",
  "required": ["version", "instance_id", "backends"],
  "properties": {
    "version":           {"type": "integer", "minimum": 0},
    "instance_id":       {"type": "string", "minLength": 1},
    "backends":          {"type": "object"},
    "active_backend_id": {"type": "string"},
    "failover_count":    {"type": "integer", "minimum": 0},
    "failover_log":      {"type": "array"}
  }
}`

// FileStore persists the state document as a single JSON file. Writes go
// through a temp file followed by rename so a crash mid-write never leaves a
// torn document behind.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	current *Snapshot
}

// NewFileStore opens (or creates) the document at path.
func NewFileStore(path, instanceID string, logger *zap.Logger) (*FileStore, error) {
	fs := &FileStore{path: path, logger: logger}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		fs.current = NewSnapshot(instanceID)
	case err != nil:
		return nil, unavailable(err)
	default:
		snap, err := decodeDocument(data)
		if err != nil {
			return nil, fmt.Errorf("load state document %s: %w", path, err)
		}
		fs.current = snap
	}

	return fs, nil
}

func decodeDocument(data []byte) (*Snapshot, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("invalid state document: %v", result.Errors())
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if snap.Backends == nil {
		snap.Backends = make(map[string]*BackendState)
	}
	if snap.Artifacts == nil {
		snap.Artifacts = make(map[string]*Artifact)
	}
	if snap.Placements == nil {
		snap.Placements = make(map[string][]*Placement)
	}
	return &snap, nil
}

// Get returns a deep copy of the current document.
func (fs *FileStore) Get(ctx context.Context) (*Snapshot, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.current.Clone(), nil
}

// Update applies fn to a copy, persists it, then makes it current. A persist
// failure leaves the in-memory document untouched.
func (fs *FileStore) Update(ctx context.Context, fn Mutator) (*Snapshot, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	next := fs.current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = fs.current.Version + 1
	next.UpdatedAt = now()

	if err := fs.persist(next); err != nil {
		return nil, unavailable(err)
	}
	fs.current = next
	return next.Clone(), nil
}

// AppendFailoverEvent appends to the log and advances the failover count.
func (fs *FileStore) AppendFailoverEvent(ctx context.Context, ev FailoverEvent) error {
	_, err := fs.Update(ctx, func(s *Snapshot) error {
		s.FailoverLog = append(s.FailoverLog, ev)
		s.FailoverCount = ev.SequenceNumber
		return nil
	})
	return err
}

func (fs *FileStore) persist(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (fs *FileStore) Close() error { return nil }
