package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/graphlocal/graphlocal/checkpoint"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBPool is the subset of *pgxpool.Pool the store uses
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements checkpoint.Store using PostgreSQL
type Store struct {
	pool      DBPool
	tableName string
}

var _ checkpoint.Store = (*Store)(nil)

// Options configuration for Postgres connection
type Options struct {
	ConnString string
	TableName  string // Default "checkpoints"
}

// New connects to Postgres and creates the table if needed.
func New(ctx context.Context, opts Options) (*Store, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	store := NewWithPool(pool, opts.TableName)
	if err := store.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool creates a store on an existing pool
func NewWithPool(pool DBPool, tableName string) *Store {
	if tableName == "" {
		tableName = "checkpoints"
	}
	return &Store{
		pool:      pool,
		tableName: tableName,
	}
}

// InitSchema creates the necessary table if it doesn't exist
func (s *Store) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			node_name TEXT NOT NULL,
			state JSONB NOT NULL,
			metadata JSONB,
			timestamp TIMESTAMPTZ NOT NULL,
			version INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_thread_version ON %s (thread_id, version DESC);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Save stores a checkpoint
func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	metadataJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, node_name, state, metadata, timestamp, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			node_name = EXCLUDED.node_name,
			state = EXCLUDED.state,
			metadata = EXCLUDED.metadata,
			timestamp = EXCLUDED.timestamp,
			version = EXCLUDED.version
	`, s.tableName)

	_, err = s.pool.Exec(ctx, query,
		cp.ID,
		cp.ThreadID,
		cp.NodeName,
		stateJSON,
		metadataJSON,
		cp.Timestamp,
		cp.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

const columns = "id, thread_id, node_name, state, metadata, timestamp, version"

// Load retrieves a checkpoint by ID
func (s *Store) Load(ctx context.Context, checkpointID string) (*checkpoint.Checkpoint, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", columns, s.tableName)

	cp, err := scanCheckpoint(s.pool.QueryRow(ctx, query, checkpointID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrNotFound, checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// Latest returns the highest-version checkpoint of a thread
func (s *Store) Latest(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE thread_id = $1 ORDER BY version DESC, timestamp DESC LIMIT 1",
		columns, s.tableName)

	cp, err := scanCheckpoint(s.pool.QueryRow(ctx, query, threadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: thread %s", checkpoint.ErrNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	return cp, nil
}

// List returns all checkpoints of a thread, oldest version first
func (s *Store) List(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE thread_id = $1 ORDER BY version ASC, timestamp ASC",
		columns, s.tableName)

	rows, err := s.pool.Query(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*checkpoint.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	return checkpoints, nil
}

// Delete removes a checkpoint
func (s *Store) Delete(ctx context.Context, checkpointID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.tableName)
	if _, err := s.pool.Exec(ctx, query, checkpointID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Clear removes all checkpoints of a thread
func (s *Store) Clear(ctx context.Context, threadID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE thread_id = $1", s.tableName)
	if _, err := s.pool.Exec(ctx, query, threadID); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

func scanCheckpoint(row pgx.Row) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	var stateJSON []byte
	var metadataJSON []byte

	if err := row.Scan(
		&cp.ID,
		&cp.ThreadID,
		&cp.NodeName,
		&stateJSON,
		&metadataJSON,
		&cp.Timestamp,
		&cp.Version,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}
