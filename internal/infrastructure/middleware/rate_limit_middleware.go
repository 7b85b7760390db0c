package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"streamrelay/pkg/config"
	"streamrelay/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// limiterIdleEviction is how long a client's bucket survives without
	// traffic before it is dropped. Player churn would otherwise grow the
	// per-IP map without bound.
	limiterIdleEviction = 10 * time.Minute

	// limiterPruneThreshold is the map size past which each lookup also
	// prunes idle buckets.
	limiterPruneThreshold = 1024
)

// limiterStore holds one token bucket per client IP, with inline pruning
// of idle buckets so no background goroutine is needed.
type limiterStore struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	rate      rate.Limit
	burstSize int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterStore(r rate.Limit, burst int) *limiterStore {
	return &limiterStore{
		clients:   make(map[string]*clientLimiter),
		rate:      r,
		burstSize: burst,
	}
}

// allow reports whether key may proceed, creating its bucket on first
// sight.
func (s *limiterStore) allow(key string) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.clients) > limiterPruneThreshold {
		for k, c := range s.clients {
			if now.Sub(c.lastSeen) > limiterIdleEviction {
				delete(s.clients, k)
			}
		}
	}

	c, exists := s.clients[key]
	if !exists {
		c = &clientLimiter{limiter: rate.NewLimiter(s.rate, s.burstSize)}
		s.clients[key] = c
	}
	c.lastSeen = now

	return c.limiter.Allow()
}

// clientIP extracts the originating IP: the first hop of X-Forwarded-For
// when a reverse proxy fronts the server, the socket address otherwise.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if i := strings.IndexByte(xff, ','); i >= 0 {
			first = xff[:i]
		}
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isWebSocketUpgrade reports whether the request is a signaling socket
// upgrade.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// NewHTTPRateLimitMiddleware limits the JSON API per client IP and bounds
// global concurrency. WebSocket upgrades are exempt here: the upgrade
// routes carry their own connection-rate limiter (see
// ws_rate_limit_middleware.go), and a long-lived signaling socket must
// not occupy a slot in the request semaphore.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := newLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)

	var globalSem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if isWebSocketUpgrade(c.Request) {
			c.Next()
			return
		}

		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error":   string(errors.ErrCodeServiceUnavailable),
					"message": "too many concurrent requests",
				})
				return
			}
		}

		if !store.allow(clientIP(c.Request)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   string(errors.ErrCodeRateLimit),
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
