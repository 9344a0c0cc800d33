// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - PeerStore: token bucket por host de cliente usando golang.org/x/time/rate
//   - ChanPool: semáforo simples para limite de conexões vivas
//   - MemoryStatsStore, RedisStatsStore, NATSPublisher: destinos de eventos de ocupação
//   - NATSWaiter: espera com despertar antecipado quando alguém sai (modo push do cliente)
package infra
