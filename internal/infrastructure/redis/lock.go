package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so a
// replica whose lock expired cannot release a lock another replica took.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript pushes the expiry out only while the key holds our token.
var refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Lock is a single-key mutual exclusion lock shared by all replicas.
//
// It is held with SET NX PX and expires after ttl unless the holder calls
// Refresh, so a crashed holder blocks others for at most one ttl.
type Lock struct {
	client *Client
	key    string
	ttl    time.Duration
}

// NewLock returns a lock on key.
func (c *Client) NewLock(key string, ttl time.Duration) *Lock {
	return &Lock{client: c, key: key, ttl: ttl}
}

// TTL returns how long the lock survives without a refresh.
func (l *Lock) TTL() time.Duration {
	return l.ttl
}

// TryLock attempts to take the lock without waiting. When acquired is
// true the returned token must be passed to Refresh and Unlock.
func (l *Lock) TryLock(ctx context.Context) (token string, acquired bool, err error) {
	token = uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquiring lock %s: %w", l.key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Refresh resets the expiry of a held lock to a full ttl. It returns
// ErrLockNotHeld once the lock expired or passed to another holder.
func (l *Lock) Refresh(ctx context.Context, token string) error {
	n, err := refreshScript.Run(ctx, l.client.rdb, []string{l.key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refreshing lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Unlock releases a held lock.
func (l *Lock) Unlock(ctx context.Context, token string) error {
	n, err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, token).Int()
	if err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
