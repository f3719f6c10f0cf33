// Package memory implements session memory: the per-session turn
// window the Bridge Dispatcher reads context from and optimistically
// appends to. A Store interface abstracts a Redis-backed
// implementation with a local JSON-file fallback so the runtime still
// works without Redis configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alphabridge/runtime/internal/corelog"
)

// Turn is one exchange in a session's history.
type Turn struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists a session's turns and reads back the most recent n.
// Appending never trims: the stored history grows without bound.
type Store interface {
	AppendTurn(ctx context.Context, sessionID string, turn Turn) error
	RecentTurns(ctx context.Context, sessionID string, n int) ([]Turn, error)
	Clear(ctx context.Context, sessionID string) error
}

// RedisStore keeps each session's turns in a TTL'd Redis list. The list
// is not capped; only reads are limited to the last n turns.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a RedisStore against an already-configured client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(sessionID string) string {
	return fmt.Sprintf("bridge:session:%s", sessionID)
}

// AppendTurn pushes turn onto the session's list and refreshes its TTL.
func (s *RedisStore) AppendTurn(ctx context.Context, sessionID string, turn Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshaling turn: %w", err)
	}
	key := s.key(sessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("appending turn to redis: %w", err)
	}
	return nil
}

// RecentTurns returns the last n turns, oldest first.
func (s *RedisStore) RecentTurns(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	key := s.key(sessionID)
	raw, err := s.client.LRange(ctx, key, int64(-n), -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("reading turns from redis: %w", err)
	}
	turns := make([]Turn, 0, len(raw))
	for _, r := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Clear deletes a session's history.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// LocalFileStore is the fallback used when no Redis URL is configured: one
// JSON file per session under dir.
type LocalFileStore struct {
	mu  sync.Mutex
	dir string
}

// NewLocalFileStore creates a LocalFileStore rooted at dir.
func NewLocalFileStore(dir string) (*LocalFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session memory dir: %w", err)
	}
	return &LocalFileStore{dir: dir}, nil
}

func (s *LocalFileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

func (s *LocalFileStore) load(sessionID string) ([]Turn, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

func (s *LocalFileStore) save(sessionID string, turns []Turn) error {
	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(sessionID), data, 0o644)
}

// AppendTurn appends turn to the session's local file.
func (s *LocalFileStore) AppendTurn(_ context.Context, sessionID string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, err := s.load(sessionID)
	if err != nil {
		return fmt.Errorf("loading session file: %w", err)
	}
	turns = append(turns, turn)
	return s.save(sessionID, turns)
}

// RecentTurns returns the last n turns, oldest first.
func (s *LocalFileStore) RecentTurns(_ context.Context, sessionID string, n int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, err := s.load(sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session file: %w", err)
	}
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns, nil
}

// Clear removes the session's local file.
func (s *LocalFileStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// FallbackStore prefers a remote Store (Redis) and falls back to a
// local JSON file one on any error, logging the degradation.
type FallbackStore struct {
	remote Store
	local  Store
	logger corelog.Logger
}

// NewFallbackStore wires remote (may be nil) ahead of local.
func NewFallbackStore(remote, local Store, logger corelog.Logger) *FallbackStore {
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	return &FallbackStore{remote: remote, local: local, logger: logger}
}

func (f *FallbackStore) AppendTurn(ctx context.Context, sessionID string, turn Turn) error {
	if f.remote != nil {
		if err := f.remote.AppendTurn(ctx, sessionID, turn); err == nil {
			return nil
		} else {
			f.logger.Warn("remote session store append failed, falling back to local", map[string]interface{}{"error": err.Error()})
		}
	}
	return f.local.AppendTurn(ctx, sessionID, turn)
}

func (f *FallbackStore) RecentTurns(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	if f.remote != nil {
		turns, err := f.remote.RecentTurns(ctx, sessionID, n)
		if err == nil {
			return turns, nil
		}
		f.logger.Warn("remote session store read failed, falling back to local", map[string]interface{}{"error": err.Error()})
	}
	return f.local.RecentTurns(ctx, sessionID, n)
}

func (f *FallbackStore) Clear(ctx context.Context, sessionID string) error {
	if f.remote != nil {
		if err := f.remote.Clear(ctx, sessionID); err != nil {
			f.logger.Warn("remote session store clear failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return f.local.Clear(ctx, sessionID)
}
