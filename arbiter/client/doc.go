// Package client implementa a máquina de estados de uma sessão de cliente:
// GREETING -> (WAITING)* -> INSIDE -> LEAVING -> DONE.
//
// A sessão conversa apenas pelo protocol.Conn e não compartilha estado com
// outras sessões. Quem decide repetir o ciclo ou encerrar é o driver (CLI).
package client
