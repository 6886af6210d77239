package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConfig holds connection settings for the Postgres-backed store.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// PostgresStore keeps the state document in a single versioned row and the
// failover log in an append-only table. Updates only commit when the row
// still carries the version they were computed from.
type PostgresStore struct {
	db         *sql.DB
	instanceID string

	mu      sync.Mutex
	current *Snapshot
}

// NewPostgresStore connects, creates tables, and loads (or initializes) the
// document for the instance.
func NewPostgresStore(cfg PostgresConfig, instanceID string) (*PostgresStore, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, unavailable(err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ps := &PostgresStore{db: db, instanceID: instanceID}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ps.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := ps.load(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return ps, nil
}

func (ps *PostgresStore) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS manager_state (
			instance_id VARCHAR(255) PRIMARY KEY,
			version BIGINT NOT NULL,
			document JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS failover_events (
			id VARCHAR(255) PRIMARY KEY,
			instance_id VARCHAR(255) NOT NULL,
			sequence_number BIGINT NOT NULL,
			failed_backend VARCHAR(255) NOT NULL,
			promoted_backend VARCHAR(255),
			reason TEXT,
			occurred_at TIMESTAMPTZ NOT NULL,
			UNIQUE (instance_id, sequence_number)
		)`,
	}

	for _, query := range queries {
		if _, err := ps.db.ExecContext(ctx, query); err != nil {
			return unavailable(fmt.Errorf("create table: %w", err))
		}
	}
	return nil
}

func (ps *PostgresStore) load(ctx context.Context) error {
	var doc []byte
	err := ps.db.QueryRowContext(ctx,
		`SELECT document FROM manager_state WHERE instance_id = $1`,
		ps.instanceID).Scan(&doc)
	switch {
	case err == sql.ErrNoRows:
		ps.current = NewSnapshot(ps.instanceID)
		return nil
	case err != nil:
		return unavailable(err)
	}

	snap, err := decodeDocument(doc)
	if err != nil {
		return fmt.Errorf("load state document for %s: %w", ps.instanceID, err)
	}
	ps.current = snap
	return nil
}

// Get returns a deep copy of the current document.
func (ps *PostgresStore) Get(ctx context.Context) (*Snapshot, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.current.Clone(), nil
}

// Update applies fn to a copy, persists it with a version check, then makes
// it current.
func (ps *PostgresStore) Update(ctx context.Context, fn Mutator) (*Snapshot, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	next := ps.current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = ps.current.Version + 1
	next.UpdatedAt = now()

	if err := ps.persist(ctx, next, ps.current.Version); err != nil {
		return nil, err
	}
	ps.current = next
	return next.Clone(), nil
}

// AppendFailoverEvent appends to both the document log and the events table.
func (ps *PostgresStore) AppendFailoverEvent(ctx context.Context, ev FailoverEvent) error {
	if _, err := ps.Update(ctx, func(s *Snapshot) error {
		s.FailoverLog = append(s.FailoverLog, ev)
		s.FailoverCount = ev.SequenceNumber
		return nil
	}); err != nil {
		return err
	}

	_, err := ps.db.ExecContext(ctx,
		`INSERT INTO failover_events
			(id, instance_id, sequence_number, failed_backend, promoted_backend, reason, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ps.instanceID, ev.SequenceNumber,
		ev.FailedBackendID, ev.PromotedBackendID, ev.Reason, ev.Timestamp)
	if err != nil {
		return unavailable(fmt.Errorf("insert failover event: %w", err))
	}
	return nil
}

func (ps *PostgresStore) persist(ctx context.Context, snap *Snapshot, prevVersion int64) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return unavailable(fmt.Errorf("encode: %w", err))
	}

	if prevVersion == 0 {
		_, err := ps.db.ExecContext(ctx,
			`INSERT INTO manager_state (instance_id, version, document, updated_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (instance_id) DO UPDATE
			 SET version = $2, document = $3, updated_at = $4`,
			ps.instanceID, snap.Version, doc, snap.UpdatedAt)
		if err != nil {
			return unavailable(fmt.Errorf("insert document: %w", err))
		}
		return nil
	}

	res, err := ps.db.ExecContext(ctx,
		`UPDATE manager_state
		 SET version = $1, document = $2, updated_at = $3
		 WHERE instance_id = $4 AND version = $5`,
		snap.Version, doc, snap.UpdatedAt, ps.instanceID, prevVersion)
	if err != nil {
		return unavailable(fmt.Errorf("update document: %w", err))
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if rows == 0 {
		return unavailable(fmt.Errorf("version conflict at %d", prevVersion))
	}
	return nil
}

func (ps *PostgresStore) Close() error { return ps.db.Close() }
