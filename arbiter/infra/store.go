package infra

import (
	"context"
	"net"
	"sync"
	"time"

	"restroom-gateway/arbiter/domain"

	"golang.org/x/time/rate"
)

// PeerStore é um token bucket (x/time/rate) por host de cliente, com cache
// e limpeza periódica de hosts inativos.
type PeerStore struct {
	mu           sync.Mutex
	entries      map[string]*peerEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type peerEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type PeerStoreOption func(*PeerStore)

func WithIdleTTL(d time.Duration) PeerStoreOption {
	return func(s *PeerStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) PeerStoreOption {
	return func(s *PeerStore) { s.cleanupEvery = d }
}

func NewPeerStore(rps float64, burst int, opts ...PeerStoreOption) *PeerStore {
	s := &PeerStore{
		entries:      make(map[string]*peerEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PeerStore) RPS() float64 { return float64(s.rps) }
func (s *PeerStore) Burst() int   { return s.burst }

// Get implementa domain.LimiterStore.
func (s *PeerStore) Get(key domain.Key) domain.Limiter {
	return s.limiter(string(key))
}

func (s *PeerStore) limiter(key string) *rate.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries[key] = &peerEntry{lim: lim, lastSeen: now}
	return lim
}

func (s *PeerStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *PeerStore) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa hosts inativos periodicamente.
// Pare cancelando o contexto.
func (s *PeerStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// PeerKey extrai a chave de limite (host, sem porta) de um endereço remoto.
func PeerKey(addr net.Addr) domain.Key {
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err == nil && host != "" {
		return domain.Key(host)
	}
	if s := addr.String(); s != "" {
		return domain.Key(s)
	}
	return "unknown"
}
