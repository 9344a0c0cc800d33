package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"restroom-gateway/arbiter/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores de ocupação em hashes do Redis:
//
//	<prefix>:total              outcome -> n (cumulativo, não expira)
//	<prefix>:minute:<yyyymmddhhmm> outcome -> n (com TTL)
//	<prefix>:group              <group>:<outcome> -> n
//	<prefix>:occupancy          <group> -> ocupação do último evento
//	<prefix>:conn:<id>          outcome -> n (opcional, com TTL)
type RedisStatsStore struct {
	rdb *redis.Client

	prefix string
	// ttl aplica apenas em chaves de série temporal / por conexão.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackConns bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackConns(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackConns = track }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "restroom:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := ev.Outcome.String()

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if g := strings.TrimSpace(string(ev.Group)); g != "" {
		pipe.HIncrBy(ctx, s.prefix+":group", g+":"+field, 1)
	}

	// Eventos de conexões diferentes podem chegar fora de ordem; o hash
	// reflete o último gravado, não necessariamente o estado atual.
	if len(ev.Occupancy) > 0 {
		values := make([]any, 0, 2*len(ev.Occupancy))
		for _, gc := range ev.Occupancy {
			values = append(values, string(gc.Group), gc.Count)
		}
		pipe.HSet(ctx, s.prefix+":occupancy", values...)
	}

	if s.trackConns {
		if id := strings.TrimSpace(ev.ConnID); id != "" {
			connKey := s.prefix + ":conn:" + id
			pipe.HIncrBy(ctx, connKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, connKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
