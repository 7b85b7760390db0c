package main

import (
	"context"
	"net/http"
	"os"
	osignal "os/signal"
	"syscall"
	"time"

	"streamrelay/internal/httpapi"
	"streamrelay/internal/infrastructure/monitoring"
	"streamrelay/internal/registry"
	"streamrelay/internal/sfu"
	"streamrelay/internal/signaling"
	"streamrelay/pkg/config"
	"streamrelay/pkg/logger"
	"streamrelay/pkg/tracing"

	"github.com/pion/webrtc/v3"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err != nil {
			continue
		}
		// Load succeeds with defaults for a missing file; keep looking
		// until a path that exists is found.
		if _, statErr := os.Stat(path); statErr == nil {
			break
		}
	}

	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	// Tracing
	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(tracing.Config{
			Enabled:     true,
			ServiceName: "streamrelay",
			JaegerURL:   cfg.Tracing.JaegerURL,
			Environment: "production",
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			log.Warnw("tracing init failed, continuing without it", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(ctx)
			}()
		}
	}

	// Peer registry: in-memory by default, Redis-backed when configured.
	var peerRegistry registry.PeerRegistry
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()
		peerRegistry = registry.NewRedis(redisClient, log)
	} else {
		peerRegistry = registry.NewMemory()
	}

	collector := monitoring.NewCollector()
	defer collector.Close()

	facade, err := sfu.NewFacade(sfu.Config{
		ICEServers:                 []webrtc.ICEServer{{URLs: cfg.ICEServers}},
		AudioCodecs:                sfu.MergeCodecs(codecParams(cfg.Codecs.Audio), sfu.DefaultAudioCodecs()),
		VideoCodecs:                sfu.MergeCodecs(codecParams(cfg.Codecs.Video), sfu.DefaultVideoCodecs()),
		BroadcastChannelCapacity:   cfg.Performance.BroadcastChannelCapacity,
		MaxPublishers:              cfg.Performance.MaxPublishers,
		MaxSubscribersPerPublisher: cfg.Performance.MaxSubscribersPerPublisher,
		Stats:                      collector,
	}, log)
	if err != nil {
		log.Fatalw("failed to build SFU facade", "error", err)
	}
	facade.OnPublisherCountChanged = collector.PublisherCountChanged
	facade.OnSubscriberCountChanged = collector.SubscriberCountChanged

	health := monitoring.NewHealthChecker()
	health.AddSfuCheck(facade, 10*time.Second, 2*time.Second)
	health.AddRegistryCheck(peerRegistry, 10*time.Second, 2*time.Second)
	if redisClient != nil {
		health.AddRedisCheck(redisClient, 10*time.Second, 2*time.Second)
	}

	validator := signaling.NewJWTCredentialValidator(cfg.Auth.JWTSecret)

	server := httpapi.NewServer(cfg, facade, peerRegistry, validator, health, collector, log)

	srv := &http.Server{
		Addr:         cfg.Server.BindAddress,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("sfu listening", "address", cfg.Server.BindAddress, "sfu_id", facade.ID())
		serverErr <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	osignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	case sig := <-quit:
		log.Infow("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorw("graceful shutdown failed", "error", err)
		}
	}
}

// codecParams converts configured codec entries to the registration shape.
func codecParams(codecs []config.Codec) []webrtc.RTPCodecParameters {
	out := make([]webrtc.RTPCodecParameters, 0, len(codecs))
	for _, c := range codecs {
		out = append(out, webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    c.Mime,
				ClockRate:   c.ClockRate,
				Channels:    c.Channels,
				SDPFmtpLine: c.SDPFmtp,
			},
			PayloadType: webrtc.PayloadType(c.PayloadType),
		})
	}
	return out
}
