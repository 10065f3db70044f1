package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/pkg/errors"
)

const (
	DefaultNonceCapacity = 65536
	minNonceLength       = 8
	maxNonceLength       = 128
	noncePrefix          = "ledger:nonce:"
)

// NonceStore remembers which nonces an identity has already spent
type NonceStore interface {
	// Claim marks nonce as used for ttl. It reports false if the nonce was already claimed.
	Claim(ctx context.Context, id model.Identity, nonce string, ttl time.Duration) (bool, error)
}

// MemoryNonces keeps claimed nonces in a bounded LRU. A nonce evicted before
// its ttl elapses can be claimed again, so capacity must cover the request
// rate over the skew window.
type MemoryNonces struct {
	mu    sync.Mutex
	cache *lru.Cache
	Now   func() time.Time
}

var _ NonceStore = (*MemoryNonces)(nil)

func NewMemoryNonces(capacity int) *MemoryNonces {
	if capacity <= 0 {
		capacity = DefaultNonceCapacity
	}
	cache, _ := lru.New(capacity) // only fails for a non-positive size
	return &MemoryNonces{cache: cache, Now: time.Now}
}

func (m *MemoryNonces) Claim(_ context.Context, id model.Identity, nonce string, ttl time.Duration) (bool, error) {
	key := id.Hex() + "|" + nonce
	now := m.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.cache.Get(key); ok && now.Before(v.(time.Time)) {
		return false, nil
	}
	m.cache.Add(key, now.Add(ttl))
	return true, nil
}

// RedisNonces claims nonces with SETNX so every ledgerd sharing the redis sees them
type RedisNonces struct {
	client *redis.Client
}

var _ NonceStore = (*RedisNonces)(nil)

func NewRedisNonces(client *redis.Client) *RedisNonces {
	return &RedisNonces{client: client}
}

func (r *RedisNonces) Claim(ctx context.Context, id model.Identity, nonce string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, noncePrefix+id.Hex()+":"+nonce, 1, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed claiming nonce")
	}
	return ok, nil
}
