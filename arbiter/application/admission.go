package application

import (
	"fmt"
	"sync"

	"restroom-gateway/arbiter/domain"
)

// Controller guarda os contadores de ocupação dos dois grupos.
//
// Invariantes (sempre com mu travado):
//   - 0 <= count[g] <= capacity
//   - count[a] > 0 implica count[b] == 0, e vice-versa
//
// Checagem e mutação acontecem na mesma seção crítica. Nenhum I/O é feito
// com mu travado.
type Controller struct {
	mu       sync.Mutex
	capacity int
	groups   [2]domain.Group
	counts   [2]int
}

var _ domain.Admission = (*Controller)(nil)

func NewController(capacity int, a, b domain.Group) (*Controller, error) {
	if capacity <= 0 {
		return nil, domain.ErrInvalidCapacity
	}
	if a == "" || b == "" || a == b {
		return nil, fmt.Errorf("%w: %q, %q", domain.ErrInvalidGroups, a, b)
	}
	return &Controller{capacity: capacity, groups: [2]domain.Group{a, b}}, nil
}

func (c *Controller) Capacity() int { return c.capacity }

func (c *Controller) Groups() [2]domain.Group { return c.groups }

// TryEnter admite g se houver vaga no grupo e o outro grupo estiver vazio.
// Sem fila e sem ordem: quem for negado tenta de novo no seu próprio ritmo.
func (c *Controller) TryEnter(g domain.Group) (domain.Verdict, error) {
	i, err := c.index(g)
	if err != nil {
		return domain.Verdict{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counts[i] < c.capacity && c.counts[1-i] == 0 {
		c.counts[i]++
		return c.verdictLocked(domain.OutcomeGranted), nil
	}
	return c.verdictLocked(domain.OutcomeDenied), nil
}

// Leave libera uma vaga de g. Rejeitado se ninguém de g estiver dentro.
func (c *Controller) Leave(g domain.Group) (domain.Verdict, error) {
	i, err := c.index(g)
	if err != nil {
		return domain.Verdict{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counts[i] == 0 {
		return c.verdictLocked(domain.OutcomeRejected), nil
	}
	c.counts[i]--
	return c.verdictLocked(domain.OutcomeLeft), nil
}

// Snapshot retorna uma cópia dos contadores.
func (c *Controller) Snapshot() domain.Occupancy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) index(g domain.Group) (int, error) {
	switch g {
	case c.groups[0]:
		return 0, nil
	case c.groups[1]:
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownGroup, g)
	}
}

func (c *Controller) verdictLocked(o domain.Outcome) domain.Verdict {
	return domain.Verdict{Outcome: o, Occupancy: c.snapshotLocked()}
}

func (c *Controller) snapshotLocked() domain.Occupancy {
	return domain.Occupancy{
		{Group: c.groups[0], Count: c.counts[0]},
		{Group: c.groups[1], Count: c.counts[1]},
	}
}
