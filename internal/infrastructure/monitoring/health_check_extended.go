package monitoring

import (
	"context"
	"time"

	"streamrelay/internal/registry"

	"github.com/redis/go-redis/v9"
)

// sfuHealth is the slice of the SFU facade the checker needs.
type sfuHealth interface {
	HealthCheck(ctx context.Context) error
}

// AddRedisCheck adds a Redis liveness check for the distributed peer
// registry backend.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddRegistryCheck verifies the peer registry answers scans.
func (h *HealthChecker) AddRegistryCheck(reg registry.PeerRegistry, interval, timeout time.Duration) {
	h.AddCheck("registry", func(ctx context.Context) (bool, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if _, err := reg.ListAll(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddSfuCheck verifies the forwarding core responds.
func (h *HealthChecker) AddSfuCheck(s sfuHealth, interval, timeout time.Duration) {
	h.AddCheck("sfu", func(ctx context.Context) (bool, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := s.HealthCheck(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// IsReady reports whether every registered check currently passes.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}
