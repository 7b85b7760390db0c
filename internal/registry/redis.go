package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"streamrelay/internal/domain"
	"streamrelay/pkg/circuitbreaker"
	"streamrelay/pkg/distributed"
	"streamrelay/pkg/retry"
	"streamrelay/pkg/tracing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisKeyPrefix  = "sfu:peer:"
	redisNamesSet   = "sfu:peer:names"
	redisEntryTTL   = 10 * time.Minute
	redisLockPrefix = "sfu:lock:"
)

// BreakerConfig is the circuit-breaker preset used to guard the Redis-backed
// registry against a degraded Redis instance stalling publisher admission.
func BreakerConfig() circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig()
	cfg.TripAfter = 3
	cfg.Cooldown = 10 * time.Second
	return cfg
}

// RetryConfig is the bounded-retry preset used for the Redis writes in Add.
func RetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.InitialDelay = 50 * time.Millisecond
	cfg.MaxDelay = 500 * time.Millisecond
	return cfg
}

// Redis implements PeerRegistry against a shared Redis instance so the
// name -> live-publisher mapping can be consulted from more than one SFU
// instance. Every call goes through a circuit breaker, and the writes in Add
// also get a bounded retry; when Redis is degraded, reads fall back to an in-memory shadow copy holding
// this instance's last-known state.
type Redis struct {
	client   *redis.Client
	breaker  *circuitbreaker.CircuitBreaker
	locks    *distributed.LockManager
	fallback *Memory
	logger   *zap.SugaredLogger
}

// NewRedis constructs a Redis-backed registry. logger may be nil.
func NewRedis(client *redis.Client, logger *zap.SugaredLogger) *Redis {
	return &Redis{
		client:   client,
		breaker:  circuitbreaker.New(BreakerConfig()),
		locks:    distributed.NewLockManager(client, redisLockPrefix),
		fallback: NewMemory(),
		logger:   logger,
	}
}

func (r *Redis) Add(ctx context.Context, name string, sessionID domain.SessionID) error {
	ctx, span := tracing.TraceRegistryOperation(ctx, "add", name)
	defer span.End()

	// A registration with the same name replacing a live entry on another
	// instance is exactly the race the distributed lock exists to settle.
	lock := r.locks.AcquireLock("name:"+name, 5*time.Second)
	if err := lock.Lock(ctx); err == nil {
		defer lock.Unlock(ctx)
	} else if r.logger != nil {
		r.logger.Warnw("failed to acquire registry name lock, proceeding unlocked", "name", name, "error", err)
	}

	status := domain.PeerStatus{
		Name:          name,
		SessionID:     sessionID,
		Online:        true,
		LastPingEpoch: time.Now().Unix(),
	}

	err := r.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, RetryConfig(), func() error {
			data, err := json.Marshal(status)
			if err != nil {
				return err
			}
			if err := r.client.Set(ctx, r.key(name), data, redisEntryTTL).Err(); err != nil {
				return err
			}
			return r.client.SAdd(ctx, redisNamesSet, name).Err()
		})
	})
	if err != nil {
		if r.logger != nil {
			r.logger.Warnw("redis registry add degraded, using in-memory fallback", "name", name, "error", err)
		}
	}
	_ = r.fallback.Add(ctx, name, sessionID)
	return nil
}

func (r *Redis) GetByName(ctx context.Context, name string) (domain.PeerStatus, bool, error) {
	var status domain.PeerStatus
	var found bool

	err := r.breaker.Execute(ctx, func() error {
		data, err := r.client.Get(ctx, r.key(name)).Result()
		if err == redis.Nil {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(data), &status); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return r.fallback.GetByName(ctx, name)
	}
	return status, found, nil
}

func (r *Redis) UpdatePing(ctx context.Context, sessionID domain.SessionID, connections int, streamTypes []string) error {
	_ = r.fallback.UpdatePing(ctx, sessionID, connections, streamTypes)

	return r.breaker.Execute(ctx, func() error {
		names, err := r.client.SMembers(ctx, redisNamesSet).Result()
		if err != nil {
			return err
		}
		for _, name := range names {
			data, err := r.client.Get(ctx, r.key(name)).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return err
			}
			var status domain.PeerStatus
			if err := json.Unmarshal([]byte(data), &status); err != nil {
				continue
			}
			if status.SessionID != sessionID {
				continue
			}
			status.Connections = connections
			status.StreamTypes = streamTypes
			status.Online = true
			status.LastPingEpoch = time.Now().Unix()
			updated, err := json.Marshal(status)
			if err != nil {
				return err
			}
			return r.client.Set(ctx, r.key(name), updated, redisEntryTTL).Err()
		}
		return nil
	})
}

func (r *Redis) RemoveBySession(ctx context.Context, sessionID domain.SessionID) error {
	_ = r.fallback.RemoveBySession(ctx, sessionID)

	return r.breaker.Execute(ctx, func() error {
		names, err := r.client.SMembers(ctx, redisNamesSet).Result()
		if err != nil {
			return err
		}
		for _, name := range names {
			data, err := r.client.Get(ctx, r.key(name)).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return err
			}
			var status domain.PeerStatus
			if json.Unmarshal([]byte(data), &status) == nil && status.SessionID == sessionID {
				r.client.Del(ctx, r.key(name))
				r.client.SRem(ctx, redisNamesSet, name)
			}
		}
		return nil
	})
}

func (r *Redis) ListAll(ctx context.Context) ([]domain.PeerStatus, error) {
	var out []domain.PeerStatus
	err := r.breaker.Execute(ctx, func() error {
		names, err := r.client.SMembers(ctx, redisNamesSet).Result()
		if err != nil {
			return err
		}
		out = make([]domain.PeerStatus, 0, len(names))
		for _, name := range names {
			data, err := r.client.Get(ctx, r.key(name)).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return err
			}
			var status domain.PeerStatus
			if json.Unmarshal([]byte(data), &status) == nil {
				out = append(out, status)
			}
		}
		return nil
	})
	if err != nil {
		return r.fallback.ListAll(ctx)
	}
	return out, nil
}

func (r *Redis) key(name string) string {
	return fmt.Sprintf("%s%s", redisKeyPrefix, name)
}
