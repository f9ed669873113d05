package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore registra sesiones emitidas para poder revocarlas antes de su expiracion.
type SessionStore interface {
	Store(ctx context.Context, sessionKey, userID string, ttl time.Duration) error
	Exists(ctx context.Context, sessionKey string) (bool, error)
	Revoke(ctx context.Context, sessionKey string) error
}

// SessionKey deriva la clave de almacenamiento de un token de sesion; el token nunca se guarda.
func SessionKey(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

type memorySessionStore struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{
		items: make(map[string]time.Time),
	}
}

func (s *memorySessionStore) Store(_ context.Context, key, _ string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(key) == "" {
		return nil
	}
	s.items[key] = time.Now().UTC().Add(ttl)
	return nil
}

func (s *memorySessionStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.items[key]
	if !ok {
		return false, nil
	}
	if time.Now().UTC().After(exp) {
		delete(s.items, key)
		return false, nil
	}
	return true, nil
}

func (s *memorySessionStore) Revoke(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

type redisKVClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisSessionStore struct {
	client  redisKVClient
	prefix  string
	timeout time.Duration
}

func NewRedisSessionStore(client *redis.Client, timeout time.Duration) SessionStore {
	if client == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &redisSessionStore{
		client:  client,
		prefix:  "auth:session:",
		timeout: timeout,
	}
}

func (s *redisSessionStore) Store(ctx context.Context, key, userID string, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Set(ctx, s.prefix+key, userID, ttl).Err()
}

func (s *redisSessionStore) Exists(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisSessionStore) Revoke(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *redisSessionStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return context.WithTimeout(ctx, timeout)
}
