// Package domain define contratos e tipos de domínio do árbitro de ocupação.
//
// Este pacote não depende de net, de protocolo de fio nem de implementações
// concretas. A intenção é permitir testes de unidade puros e desacoplar a
// regra de admissão dos detalhes de transporte e infraestrutura.
package domain
