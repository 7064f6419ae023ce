package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/graphlocal/graphlocal/checkpoint"
	"github.com/redis/go-redis/v9"
)

// Store implements checkpoint.Store using Redis. Checkpoints are JSON
// strings; each thread has a sorted set of checkpoint ids scored by version.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ checkpoint.Store = (*Store)(nil)

// Options configuration for Redis connection
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "graphlocal:"
	TTL      time.Duration // Expiration for checkpoints, default 0 (no expiration)
}

// New creates a Redis checkpoint store. The connection is established lazily.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "graphlocal:"
	}

	return &Store{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) checkpointKey(id string) string {
	return fmt.Sprintf("%scheckpoint:%s", s.prefix, id)
}

func (s *Store) threadKey(id string) string {
	return fmt.Sprintf("%sthread:%s:checkpoints", s.prefix, id)
}

// Save stores a checkpoint
func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	threadKey := s.threadKey(cp.ThreadID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.checkpointKey(cp.ID), data, s.ttl)
	pipe.ZAdd(ctx, threadKey, redis.Z{Score: float64(cp.Version), Member: cp.ID})
	if s.ttl > 0 {
		pipe.Expire(ctx, threadKey, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	return nil
}

// Load retrieves a checkpoint by ID
func (s *Store) Load(ctx context.Context, checkpointID string) (*checkpoint.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(checkpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrNotFound, checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint from redis: %w", err)
	}

	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Latest returns the highest-version checkpoint of a thread. Index entries
// whose checkpoint expired are skipped.
func (s *Store) Latest(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	ids, err := s.client.ZRevRange(ctx, s.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read thread %s: %w", threadID, err)
	}
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if errors.Is(err, checkpoint.ErrNotFound) {
			continue
		}
		return cp, err
	}
	return nil, fmt.Errorf("%w: thread %s", checkpoint.ErrNotFound, threadID)
}

// List returns all checkpoints of a thread, oldest version first
func (s *Store) List(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	ids, err := s.client.ZRange(ctx, s.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints for thread %s: %w", threadID, err)
	}
	if len(ids) == 0 {
		return []*checkpoint.Checkpoint{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.checkpointKey(id)
	}

	// MGet returns nil for keys that expired.
	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkpoints: %w", err)
	}

	checkpoints := make([]*checkpoint.Checkpoint, 0, len(results))
	for _, result := range results {
		str, ok := result.(string)
		if !ok {
			continue
		}
		var cp checkpoint.Checkpoint
		if err := json.Unmarshal([]byte(str), &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, &cp)
	}
	checkpoint.SortByVersion(checkpoints)
	return checkpoints, nil
}

// Delete removes a checkpoint
func (s *Store) Delete(ctx context.Context, checkpointID string) error {
	cp, err := s.Load(ctx, checkpointID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.checkpointKey(checkpointID))
	pipe.ZRem(ctx, s.threadKey(cp.ThreadID), checkpointID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Clear removes all checkpoints of a thread
func (s *Store) Clear(ctx context.Context, threadID string) error {
	threadKey := s.threadKey(threadID)
	ids, err := s.client.ZRange(ctx, threadKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read thread %s: %w", threadID, err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.checkpointKey(id))
	}
	keys = append(keys, threadKey)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}
