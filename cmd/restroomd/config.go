package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type config struct {
	listenAddr        string
	capacity          int
	groups            [2]string
	maxConnections    int
	connectionTimeout time.Duration

	rateEnabled bool
	rateRPS     float64
	rateBurst   int

	statsEnabled       bool
	statsRedisAddr     string
	statsRedisPassword string
	statsRedisDB       int
	statsPrefix        string
	statsTTL           time.Duration
	statsBucket        string
	statsTrackConns    bool

	eventsNATSURL string
	eventsSubject string

	logLevel  slog.Level
	logFormat string
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8666")
	cfg.capacity = getenvIntDefault("CAPACITY", 3)
	cfg.maxConnections = getenvIntDefault("MAX_CONNECTIONS", 100)
	cfg.connectionTimeout = getenvDurationDefault("CONNECTION_TIMEOUT", 0)

	groups := strings.Split(getenvDefault("GROUPS", "M,F"), ",")
	if len(groups) != 2 {
		return config{}, fmt.Errorf("GROUPS must have exactly two comma-separated labels, got %d", len(groups))
	}
	cfg.groups = [2]string{strings.TrimSpace(groups[0]), strings.TrimSpace(groups[1])}

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", false)
	cfg.rateRPS = getenvFloatDefault("RATE_RPS", 10)
	cfg.rateBurst = getenvIntDefault("RATE_BURST", 20)

	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", false)
	cfg.statsRedisAddr = getenvDefault("STATS_REDIS_ADDR", "")
	cfg.statsRedisPassword = os.Getenv("STATS_REDIS_PASSWORD")
	cfg.statsRedisDB = getenvIntDefault("STATS_REDIS_DB", 0)
	cfg.statsPrefix = getenvDefault("STATS_PREFIX", "restroom:stats")
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("STATS_BUCKET", "minute")
	cfg.statsTrackConns = getenvBoolDefault("STATS_TRACK_CONNS", false)

	cfg.eventsNATSURL = os.Getenv("EVENTS_NATS_URL")
	cfg.eventsSubject = getenvDefault("EVENTS_SUBJECT", "restroom.occupancy")

	cfg.logFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "text"))
	if err := cfg.logLevel.UnmarshalText([]byte(getenvDefault("LOG_LEVEL", "info"))); err != nil {
		return config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if cfg.capacity <= 0 {
		return config{}, errors.New("CAPACITY must be > 0")
	}
	if cfg.groups[0] == "" || cfg.groups[1] == "" || cfg.groups[0] == cfg.groups[1] {
		return config{}, errors.New("GROUPS must name two distinct, non-empty labels")
	}
	if cfg.maxConnections <= 0 {
		return config{}, errors.New("MAX_CONNECTIONS must be > 0")
	}
	if cfg.rateEnabled && cfg.rateRPS <= 0 {
		return config{}, errors.New("RATE_RPS must be > 0")
	}
	if cfg.rateEnabled && cfg.rateBurst <= 0 {
		return config{}, errors.New("RATE_BURST must be > 0")
	}
	if cfg.statsEnabled && strings.TrimSpace(cfg.statsRedisAddr) == "" {
		return config{}, errors.New("STATS_REDIS_ADDR is required when STATS_ENABLED=true")
	}
	if cfg.logFormat != "text" && cfg.logFormat != "json" {
		return config{}, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.logFormat)
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
