// Package application contém os casos de uso do árbitro: o controlador de
// admissão (fonte única da ocupação), o portão de conexões por cliente
// (rate limit) e o limite de conexões simultâneas.
//
// Ele depende apenas do pacote domain e não conhece net nem o protocolo de fio.
// Ex.: Controller.TryEnter(group) retorna um Verdict (granted/denied + ocupação).
package application
