// Package distributed coordinates SFU instances that share a Redis-backed
// peer registry. Its single concern is the name lock taken during grabber
// registration, so replace-on-reregister stays atomic when more than one
// instance fronts the same registry.
package distributed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// acquirePollInterval is how often an unacquired lock is re-attempted
// while waiting.
const acquirePollInterval = 50 * time.Millisecond

// releaseScript deletes the lock key only when it still carries this
// holder's token, so a lock that expired and was re-acquired elsewhere is
// never released out from under its new holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// LockManager hands out name locks under a common key prefix.
type LockManager struct {
	client *redis.Client
	prefix string
}

// NewLockManager creates a lock manager.
func NewLockManager(client *redis.Client, prefix string) *LockManager {
	return &LockManager{client: client, prefix: prefix}
}

// AcquireLock returns an unheld lock handle for key. The TTL bounds how
// long a crashed holder can block other instances; registration critical
// sections are milliseconds, so the TTL only matters after a crash and no
// renewal machinery is needed.
func (lm *LockManager) AcquireLock(key string, ttl time.Duration) *Lock {
	return &Lock{
		client: lm.client,
		key:    lm.prefix + key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Lock is one instance's claim on a registry name.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// Lock acquires the name, waiting up to the lock's TTL for a competing
// registration on another instance to finish. It returns ctx's error if
// the caller goes away first.
func (l *Lock) Lock(ctx context.Context) error {
	deadline := time.Now().Add(l.ttl)

	for {
		ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquiring lock %s: %w", l.key, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("lock %s held by another instance", l.key)
		}

		timer := time.NewTimer(acquirePollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Unlock releases the name if this holder still owns it. Releasing a lock
// that already expired is not an error.
func (l *Lock) Unlock(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("releasing lock %s: %w", l.key, err)
	}
	return nil
}
