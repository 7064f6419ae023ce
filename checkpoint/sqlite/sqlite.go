package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/graphlocal/graphlocal/checkpoint"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements checkpoint.Store using SQLite
type Store struct {
	db        *sql.DB
	tableName string
}

var _ checkpoint.Store = (*Store)(nil)

// Options configuration for SQLite connection
type Options struct {
	Path      string
	TableName string // Default "checkpoints"
}

// New opens the database at opts.Path and creates the table if needed.
func New(ctx context.Context, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "checkpoints"
	}

	store := &Store{
		db:        db,
		tableName: tableName,
	}

	if err := store.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// InitSchema creates the necessary table if it doesn't exist
func (s *Store) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			node_name TEXT NOT NULL,
			state TEXT NOT NULL,
			metadata TEXT,
			timestamp DATETIME NOT NULL,
			version INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_thread_version ON %s (thread_id, version);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
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
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			thread_id = excluded.thread_id,
			node_name = excluded.node_name,
			state = excluded.state,
			metadata = excluded.metadata,
			timestamp = excluded.timestamp,
			version = excluded.version
	`, s.tableName)

	_, err = s.db.ExecContext(ctx, query,
		cp.ID,
		cp.ThreadID,
		cp.NodeName,
		string(stateJSON),
		string(metadataJSON),
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
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", columns, s.tableName)

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, checkpointID))
	if errors.Is(err, sql.ErrNoRows) {
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
		"SELECT %s FROM %s WHERE thread_id = ? ORDER BY version DESC, timestamp DESC LIMIT 1",
		columns, s.tableName)

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, threadID))
	if errors.Is(err, sql.ErrNoRows) {
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
		"SELECT %s FROM %s WHERE thread_id = ? ORDER BY version ASC, timestamp ASC",
		columns, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, threadID)
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
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, checkpointID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Clear removes all checkpoints of a thread
func (s *Store) Clear(ctx context.Context, threadID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE thread_id = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, threadID); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	var stateJSON string
	var metadataJSON sql.NullString

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

	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}
