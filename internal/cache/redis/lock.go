package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// Both scripts only act when the caller still owns the lock.
var (
	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)
	extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
)

// LockManager implements domain.LockManager with SET NX PX and owner
// tokens. Held locks are extended every ttl/3 until released so a long
// market-creation run never loses its lock while the desk is alive.
type LockManager struct {
	c *Client
}

// NewLockManager creates a LockManager.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c}
}

// Acquire takes key for ttl. It returns domain.ErrLockHeld when another
// owner holds it. The returned unlock func is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	k := lm.c.key("lock:", key)

	ok, err := lm.c.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	stop := make(chan struct{})
	go lm.keepAlive(k, token, ttl, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			// The caller's context may already be gone.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, lm.c.rdb, []string{k}, token).Err()
		})
	}, nil
}

func (lm *LockManager) keepAlive(key, token string, ttl time.Duration, stop <-chan struct{}) {
	every := ttl / 3
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			n, err := extendScript.Run(ctx, lm.c.rdb, []string{key}, token, ttl.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				// Lost ownership; nothing left to extend.
				return
			}
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
