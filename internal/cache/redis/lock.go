package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cmardones/budabid/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's unique
// token, so one holder can never release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RunLock guards against two bot instances maintaining an order on the same
// market at once. Two competing instances would outbid each other forever, so
// acquiring the market's lock is a precondition for starting a run.
type RunLock struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewRunLock creates a RunLock backed by the given Client.
func NewRunLock(c *Client) *RunLock {
	return &RunLock{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(marketID string) string {
	return "budabid:run:" + marketID
}

// Acquire attempts to obtain the run lock for a market with the given TTL. On
// success it returns an unlock function that must be called when the run
// ends; calling it more than once is safe.
//
// Returns domain.ErrLockHeld when another instance already owns the market.
func (rl *RunLock) Acquire(ctx context.Context, marketID string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	key := lockKey(marketID)

	ok, err := rl.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire run lock %s: %w", marketID, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: market %s: %w", marketID, domain.ErrLockHeld)
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		// Background context so unlock succeeds even after the run's context
		// is cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = rl.unlockSc.Run(unlockCtx, rl.rdb, []string{key}, token).Err()
	}

	return unlock, nil
}
