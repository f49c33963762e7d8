package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RotationStore remembers the id of the most recently issued refresh token
// per user, so a superseded token can be told apart from the current one.
type RotationStore interface {
	// Record makes jti the user's current refresh token id.
	Record(ctx context.Context, userID, jti string, ttl time.Duration) error
	// Rotate swaps presented for next if presented is current, or if the user
	// has no entry yet. It reports false when presented was superseded.
	Rotate(ctx context.Context, userID, presented, next string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, userID string) error
}

const rotateScript = `
local current = redis.call("GET", KEYS[1])
if current and current ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`

var rotateLua = redis.NewScript(rotateScript)

type RedisRotationStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisRotationStore(client redis.UniversalClient, keyPrefix string) *RedisRotationStore {
	if keyPrefix == "" {
		keyPrefix = "ems"
	}
	return &RedisRotationStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisRotationStore) key(userID string) string {
	return fmt.Sprintf("%s:rt:%s", s.keyPrefix, userID)
}

func (s *RedisRotationStore) Record(ctx context.Context, userID, jti string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(userID), jti, ttl).Err(); err != nil {
		return fmt.Errorf("record refresh token id: %w", err)
	}
	return nil
}

func (s *RedisRotationStore) Rotate(ctx context.Context, userID, presented, next string, ttl time.Duration) (bool, error) {
	res, err := rotateLua.Run(ctx, s.client, []string{s.key(userID)}, presented, next, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rotate refresh token id: %w", err)
	}
	return res == 1, nil
}

func (s *RedisRotationStore) Forget(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("forget refresh token id: %w", err)
	}
	return nil
}

type rotationEntry struct {
	jti       string
	expiresAt time.Time
}

// MemoryRotationStore is a single-process RotationStore.
type MemoryRotationStore struct {
	mu      sync.Mutex
	entries map[string]rotationEntry
	now     func() time.Time
}

func NewMemoryRotationStore() *MemoryRotationStore {
	return &MemoryRotationStore{
		entries: make(map[string]rotationEntry),
		now:     time.Now,
	}
}

func (s *MemoryRotationStore) Record(_ context.Context, userID, jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = rotationEntry{jti: jti, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryRotationStore) Rotate(_ context.Context, userID, presented, next string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[userID]; ok && now.Before(e.expiresAt) && e.jti != presented {
		return false, nil
	}
	s.entries[userID] = rotationEntry{jti: next, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryRotationStore) Forget(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}
