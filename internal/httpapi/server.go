// Package httpapi wires the HTTP surface: WebSocket upgrades for the two
// signaling protocols, the JSON status endpoints, Prometheus metrics, and
// the static web directory.
package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"streamrelay/internal/infrastructure/middleware"
	"streamrelay/internal/infrastructure/monitoring"
	"streamrelay/internal/registry"
	"streamrelay/internal/signaling"
	"streamrelay/pkg/cache"
	"streamrelay/pkg/config"
	"streamrelay/pkg/logger"
	"streamrelay/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const peersCacheTTL = time.Second

// Server holds the HTTP surface's collaborators.
type Server struct {
	cfg       *config.Config
	sfu       signaling.Sfu
	registry  registry.PeerRegistry
	validator signaling.CredentialValidator
	health    *monitoring.HealthChecker
	collector *monitoring.Collector
	pcConfig  signaling.PCConfig
	logger    *zap.SugaredLogger

	peersCache *cache.Cache
	upgrader   websocket.Upgrader
}

// NewServer builds the HTTP server. health and collector may be nil.
func NewServer(
	cfg *config.Config,
	sfuSvc signaling.Sfu,
	reg registry.PeerRegistry,
	validator signaling.CredentialValidator,
	health *monitoring.HealthChecker,
	collector *monitoring.Collector,
	logger *zap.SugaredLogger,
) *Server {
	return &Server{
		cfg:        cfg,
		sfu:        sfuSvc,
		registry:   reg,
		validator:  validator,
		health:     health,
		collector:  collector,
		pcConfig:   PCConfigFromICEServers(cfg.ICEServers),
		logger:     logger,
		peersCache: cache.New(peersCacheTTL),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Signaling clients connect from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// PCConfigFromICEServers turns the configured ICE server URLs into the
// RTCConfiguration shape handed to browser clients.
func PCConfigFromICEServers(urls []string) signaling.PCConfig {
	if len(urls) == 0 {
		return signaling.PCConfig{ICEServers: []signaling.ICEServerConfig{}}
	}
	return signaling.PCConfig{ICEServers: []signaling.ICEServerConfig{{URLs: urls}}}
}

// Router assembles the gin engine with every route and middleware.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	sugar := s.logger
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}

	router.Use(middleware.RecoveryMiddleware(sugar))
	router.Use(middleware.ErrorHandlerMiddleware(sugar))
	router.Use(middleware.RequestLogMiddleware(logger.NewContextLogger(sugar.Desugar())))
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(s.cfg))

	wsLimit := middleware.NewWSConnectionRateLimitMiddleware(s.cfg)
	router.GET("/player", wsLimit, s.handlePlayer)
	router.GET("/grabber/:name", wsLimit, s.handleGrabber)
	router.GET("/api/peers", s.handlePeers)
	router.GET("/api/health", s.handleHealth)

	if s.cfg.Server.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Static fallthrough for the browser assets.
	router.NoRoute(gin.WrapH(http.FileServer(http.Dir(s.cfg.Server.WebDir))))

	return router
}

func (s *Server) upgrade(c *gin.Context) (*websocket.Conn, bool) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warnw("websocket upgrade failed", "path", c.Request.URL.Path, "error", err)
		}
		return nil, false
	}
	if limit := s.cfg.RateLimiting.WebSocket.MaxMessageSizeBytes; s.cfg.RateLimiting.Enabled && limit > 0 {
		conn.SetReadLimit(limit)
	}
	return conn, true
}

func (s *Server) handleGrabber(c *gin.Context) {
	name := c.Param("name")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	name = utils.SanitizeString(name)
	if utils.IsEmpty(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "grabber name required"})
		return
	}

	conn, ok := s.upgrade(c)
	if !ok {
		return
	}

	if s.collector != nil {
		s.collector.WebSocketSessionOpened("grabber")
		defer s.collector.WebSocketSessionClosed("grabber")
	}

	session := signaling.NewGrabberSession(conn, name, s.sfu, s.registry, s.pcConfig, s.cfg.Signal.PingInterval, s.logger)
	session.Run(c.Request.Context())
}

func (s *Server) handlePlayer(c *gin.Context) {
	conn, ok := s.upgrade(c)
	if !ok {
		return
	}

	if s.collector != nil {
		s.collector.WebSocketSessionOpened("player")
		defer s.collector.WebSocketSessionClosed("player")
	}

	session := signaling.NewPlayerSession(conn, s.sfu, s.registry, s.validator, s.pcConfig, s.logger)
	session.Run(c.Request.Context())
}

// handlePeers serves the registry listing through a short-TTL cache so
// dashboard polling does not turn into repeated registry scans. When the
// registry errors, the cache serves the last known listing instead.
func (s *Server) handlePeers(c *gin.Context) {
	peers, err := s.peersCache.GetOrLoad(c.Request.Context(), "peers", peersCacheTTL, func(ctx context.Context) (interface{}, error) {
		return s.registry.ListAll(ctx)
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}

func (s *Server) handleHealth(c *gin.Context) {
	metrics, err := s.sfu.GetMetrics(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := "healthy"
	if s.health != nil && !s.health.IsReady(c.Request.Context()) {
		status = "unhealthy"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"sfu_id":      metrics.SfuID,
		"publishers":  metrics.Publishers,
		"subscribers": metrics.Subscribers,
	})
}
