package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// unlockLua deletes the lock only if it still carries the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends the TTL only if the caller still owns the lock.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX and token-checked
// Lua release and refresh.
type LockManager struct {
	c         *Client
	unlockSc  *redis.Script
	refreshSc *redis.Script
	logger    *slog.Logger
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		c:         c,
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
		logger:    logger.With(slog.String("component", "redis_lock")),
	}
}

var _ domain.LockManager = (*LockManager)(nil)

// Acquire takes the lock for ttl. The returned unlock function is safe to
// call more than once. It returns domain.ErrLockHeld when another owner has
// the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := lm.acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return lm.releaser(lm.c.Key("lock", key), token), nil
}

// Hold takes the lock and keeps refreshing it every ttl/3 until ctx is done
// or ownership is lost. lost is closed when the lock could not be renewed.
func (lm *LockManager) Hold(ctx context.Context, key string, ttl time.Duration) (unlock func(), lost <-chan struct{}, err error) {
	token, err := lm.acquire(ctx, key, ttl)
	if err != nil {
		return nil, nil, err
	}
	lk := lm.c.Key("lock", key)
	release := lm.releaser(lk, token)

	lostCh := make(chan struct{})
	holdCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-holdCtx.Done():
				return
			case <-ticker.C:
				n, err := lm.refreshSc.Run(holdCtx, lm.c.Underlying(), []string{lk}, token, ttl.Milliseconds()).Int64()
				if holdCtx.Err() != nil {
					return
				}
				if err != nil || n == 0 {
					lm.logger.Error("redis_lock: lost lock",
						slog.String("key", key),
						slog.Any("error", err),
					)
					close(lostCh)
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		release()
	}, lostCh, nil
}

func (lm *LockManager) acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := lm.c.Underlying().SetNX(ctx, lm.c.Key("lock", key), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	return token, nil
}

func (lm *LockManager) releaser(lk, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Background context: release must work after the caller's
			// context is cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(ctx, lm.c.Underlying(), []string{lk}, token).Err()
		})
	}
}
