// Package arbiter fornece o adapter TCP do árbitro de ocupação.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net)
//   - protocol: formato de fio (frames "$NNNN:TYPE;k=v#\r\n") e conexão com framing
//   - application: casos de uso (admissão, portão por cliente, limite de conexões)
//   - infra: implementações concretas (token bucket, semáforo, Redis, NATS)
//   - client: máquina de estados da sessão do cliente
//   - arbiter (este pacote): Server (listener) + Handler (uma goroutine por conexão)
//
// Fluxo no servidor:
//
//  1. Aceita a conexão e aplica o portão por host e o limite de conexões vivas
//  2. Handler lê um frame, decodifica e chama o controlador de admissão
//  3. Responde ENTR/BLOK/LEFT/ERR com o id da requisição
//  4. Registra a transição (log + StatsStore) e volta a ler
//
// Limitação conhecida: se o cliente desconecta estando dentro, a vaga não é
// liberada (nenhum EXIT foi recebido).
package arbiter
