package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma transição de ocupação (entrada, bloqueio, saída
// ou saída rejeitada) já decidida pelo controlador.
//
// Observação: cuidado com cardinalidade (ConnID/Peer são únicos por conexão e
// não devem virar chave em bases como Redis sem controle).
type StatsEvent struct {
	ConnID  string
	Peer    string
	Group   Group
	Outcome Outcome

	Occupancy Occupancy

	At time.Time
}

// StatsStore é a estratégia de persistência/publicação de eventos de ocupação.
//
// Implementações podem armazenar em Redis, publicar em NATS, memória, etc.
// O handler trata erro como best-effort (não derruba a conexão).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
