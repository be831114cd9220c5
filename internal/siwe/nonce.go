package siwe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const noncePrefix = "siwe:nonce:"

// NonceStore issues single-use nonces bound to an address.
type NonceStore interface {
	Issue(ctx context.Context, address string) (string, error)
	// Consume succeeds once for a nonce previously issued to address.
	Consume(ctx context.Context, address, nonce string) error
}

func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func nonceKey(address string) string {
	return noncePrefix + strings.ToLower(address)
}

// RedisNonceStore keeps nonces in Redis with a TTL.
type RedisNonceStore struct {
	cache *redis.Client
	ttl   time.Duration
}

// NewRedisNonceStore builds a Redis-backed nonce store.
func NewRedisNonceStore(cache *redis.Client, ttl time.Duration) *RedisNonceStore {
	return &RedisNonceStore{cache: cache, ttl: ttl}
}

// Issue stores a fresh nonce for address, replacing any previous one.
func (s *RedisNonceStore) Issue(ctx context.Context, address string) (string, error) {
	nonce := newNonce()
	if err := s.cache.Set(ctx, nonceKey(address), nonce, s.ttl).Err(); err != nil {
		return "", err
	}
	return nonce, nil
}

// Consume atomically reads and deletes the nonce for address.
func (s *RedisNonceStore) Consume(ctx context.Context, address, nonce string) error {
	stored, err := s.cache.GetDel(ctx, nonceKey(address)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrInvalidNonce
	}
	if err != nil {
		return err
	}
	if stored != nonce {
		return ErrInvalidNonce
	}
	return nil
}

type memoryNonce struct {
	value   string
	expires time.Time
}

// MemoryNonceStore is the in-process store used without Redis.
type MemoryNonceStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	nonces map[string]memoryNonce
	now    func() time.Time
}

// NewMemoryNonceStore builds an in-memory nonce store.
func NewMemoryNonceStore(ttl time.Duration) *MemoryNonceStore {
	return &MemoryNonceStore{ttl: ttl, nonces: map[string]memoryNonce{}, now: time.Now}
}

func (s *MemoryNonceStore) Issue(_ context.Context, address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce := newNonce()
	s.nonces[nonceKey(address)] = memoryNonce{value: nonce, expires: s.now().Add(s.ttl)}
	return nonce, nil
}

func (s *MemoryNonceStore) Consume(_ context.Context, address, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nonceKey(address)
	stored, ok := s.nonces[key]
	delete(s.nonces, key)
	if !ok || stored.value != nonce || s.now().After(stored.expires) {
		return ErrInvalidNonce
	}
	return nil
}
