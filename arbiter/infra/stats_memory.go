package infra

import (
	"context"
	"sync"

	"restroom-gateway/arbiter/domain"
)

type Counters struct {
	Granted  int64
	Denied   int64
	Left     int64
	Rejected int64
}

func (c *Counters) add(o domain.Outcome) {
	switch o {
	case domain.OutcomeGranted:
		c.Granted++
	case domain.OutcomeDenied:
		c.Denied++
	case domain.OutcomeLeft:
		c.Left++
	case domain.OutcomeRejected:
		c.Rejected++
	}
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes, para o simulador e para desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byGroup map[domain.Group]Counters
	byConn  map[string]Counters
	last    domain.Occupancy

	trackConns bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackConns(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackConns = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byGroup: make(map[domain.Group]Counters),
		byConn:  make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Outcome)

	g := s.byGroup[ev.Group]
	g.add(ev.Outcome)
	s.byGroup[ev.Group] = g

	if s.trackConns && ev.ConnID != "" {
		c := s.byConn[ev.ConnID]
		c.add(ev.Outcome)
		s.byConn[ev.ConnID] = c
	}

	s.last = append(s.last[:0], ev.Occupancy...)
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByGroup() map[domain.Group]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Group]Counters, len(s.byGroup))
	for k, v := range s.byGroup {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByConn() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byConn))
	for k, v := range s.byConn {
		out[k] = v
	}
	return out
}

// LastOccupancy retorna a ocupação carregada pelo último evento gravado.
func (s *MemoryStatsStore) LastOccupancy() domain.Occupancy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(domain.Occupancy(nil), s.last...)
}
