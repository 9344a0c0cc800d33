package application

import (
	"restroom-gateway/arbiter/domain"
)

// ConnectionGate decide se uma nova conexão de um cliente (chave = host) pode
// ser atendida agora.
//
// Ele não sabe nada sobre TCP, apenas retorna uma decisão.
type ConnectionGate struct {
	Store domain.LimiterStore
}

func (s ConnectionGate) Decide(key domain.Key) domain.Decision {
	if s.Store == nil {
		return domain.Decision{Allowed: true}
	}

	lim := s.Store.Get(key)
	if lim == nil {
		return domain.Decision{Allowed: true}
	}
	return domain.Decision{Allowed: lim.Allow()}
}
