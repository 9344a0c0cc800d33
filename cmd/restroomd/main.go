package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"restroom-gateway/arbiter"
	"restroom-gateway/arbiter/application"
	"restroom-gateway/arbiter/domain"
	"restroom-gateway/arbiter/infra"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctrl, err := application.NewController(cfg.capacity, domain.Group(cfg.groups[0]), domain.Group(cfg.groups[1]))
	if err != nil {
		log.Fatalf("admission controller: %v", err)
	}

	var stats infra.Fanout
	if cfg.statsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.statsRedisAddr,
			Password: cfg.statsRedisPassword,
			DB:       cfg.statsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			log.Fatalf("redis stats ping error: %v", err)
		}

		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackConns(cfg.statsTrackConns),
		))
	}
	if cfg.eventsNATSURL != "" {
		pub, err := infra.NewNATSPublisher(cfg.eventsNATSURL, cfg.eventsSubject)
		if err != nil {
			log.Fatalf("nats events: %v", err)
		}
		defer func() { _ = pub.Close() }()
		stats = append(stats, pub)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &arbiter.Server{
		Addr: cfg.listenAddr,
		Handler: &arbiter.Handler{
			Admission: ctrl,
			Logger:    logger,
		},
		Slots: application.ConcurrencyService{
			Pool:           infra.NewChanPool(cfg.maxConnections),
			AcquireTimeout: cfg.connectionTimeout,
		},
		Logger: logger,
	}
	if len(stats) > 0 {
		srv.Handler.Stats = stats
	}
	if cfg.rateEnabled {
		peers := infra.NewPeerStore(cfg.rateRPS, cfg.rateBurst)
		peers.StartJanitor(ctx)
		srv.Gate = application.ConnectionGate{Store: peers}
	}

	log.Printf("restroom arbiter listening on %s", cfg.listenAddr)
	log.Printf("admission: capacity=%d groups=%s,%s", cfg.capacity, cfg.groups[0], cfg.groups[1])
	log.Printf("connections: max=%d acquireTimeout=%s rate=%v rps=%.3f burst=%d", cfg.maxConnections, cfg.connectionTimeout, cfg.rateEnabled, cfg.rateRPS, cfg.rateBurst)
	log.Printf("stats: redis=%v redisAddr=%q bucket=%q ttl=%s nats=%q", cfg.statsEnabled, cfg.statsRedisAddr, cfg.statsBucket, cfg.statsTTL, cfg.eventsNATSURL)

	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("received signal, exiting now (occupancy %s)", ctrl.Snapshot())
}

func newLogger(cfg config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.logLevel}
	if cfg.logFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
