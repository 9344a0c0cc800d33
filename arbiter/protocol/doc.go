// Package protocol implementa o formato de fio do árbitro (um frame de texto
// por mensagem) e uma conexão com framing sobre qualquer io.ReadWriteCloser.
//
// Gramática de um frame:
//
//	"$" DIGIT{4} ":" TYPE4 ";" [KEY "=" VALUE] "#" CRLF
//
// Exemplo: "$0001:HELO;gender=M#\r\n".
//
// O id é escolhido por quem envia e serve apenas para correlação/log.
package protocol
