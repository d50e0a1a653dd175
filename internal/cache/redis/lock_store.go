package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fundingarb/basisbot/internal/domain"
)

// deleteIfMatchesLua deletes a lock key only if its value matches the
// caller's token. This prevents a holder whose lock already expired from
// releasing the lock of whoever re-acquired it.
const deleteIfMatchesLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockStore implements domain.LockStore using Redis SETNX with a TTL and a
// Lua-based conditional delete.
type LockStore struct {
	rdb      *redis.Client
	deleteSc *redis.Script
}

// NewLockStore creates a LockStore backed by the given Client.
func NewLockStore(c *Client) *LockStore {
	return &LockStore{
		rdb:      c.Underlying(),
		deleteSc: redis.NewScript(deleteIfMatchesLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// SetIfNotExists stores the token under the key with the given TTL. It
// returns false when a live lock already exists.
func (ls *LockStore) SetIfNotExists(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := ls.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: set lock %s: %w", key, err)
	}
	return ok, nil
}

// DeleteIfMatches deletes the key only when the stored token matches. A
// mismatch (expired and re-acquired) returns false without error.
func (ls *LockStore) DeleteIfMatches(ctx context.Context, key, token string) (bool, error) {
	n, err := ls.deleteSc.Run(ctx, ls.rdb, []string{lockKey(key)}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: delete lock %s: %w", key, err)
	}
	return n == 1, nil
}

// Compile-time interface check.
var _ domain.LockStore = (*LockStore)(nil)
