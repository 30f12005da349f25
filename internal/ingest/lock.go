package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker provides keyed mutual exclusion for ingestion runs. At most
// one sync per (tenant, repo) key may hold the lock; a second caller
// gets ErrSyncInProgress instead of racing the delta computation.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// MemoryLocker is the single-process implementation.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[key]; taken {
		return nil, fmt.Errorf("%w: %s", domain.ErrSyncInProgress, key)
	}
	l.held[key] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

// RedisLocker coordinates ingestion across processes with SET NX keys.
// The TTL bounds how long a crashed worker can keep a repository locked.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "ri:ingest_lock:"}
}

// releaseScript deletes the lock only when it is still owned by the
// caller, so an expired lock re-acquired by another worker survives.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	token := uuid.NewString()
	fullKey := l.prefix + key

	acquired, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire ingest lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", domain.ErrSyncInProgress, key)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err()
	}, nil
}
