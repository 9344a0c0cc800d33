package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Type é o tipo da mensagem (conjunto fechado).
type Type uint8

const (
	TypeRequestEnter Type = iota + 1
	TypeGrant
	TypeDeny
	TypeRequestLeave
	TypeLeft
	TypeError
)

const (
	// KeyGroup é a chave do payload que carrega o grupo.
	KeyGroup = "gender"
	// KeyMessage é a chave do payload de TypeError.
	KeyMessage = "msg"

	// MaxIDs é o módulo do id: ids passam de 9999 para 0 sem erro.
	MaxIDs = 10000

	headerLen  = 11 // "$" + 4 dígitos + ":" + tipo (4) + ";"
	trailer    = "#\r\n"
	minLen     = headerLen + len(trailer)
	typeOffset = 6
)

var codes = map[Type]string{
	TypeRequestEnter: "HELO",
	TypeGrant:        "ENTR",
	TypeDeny:         "BLOK",
	TypeRequestLeave: "EXIT",
	TypeLeft:         "LEFT",
	TypeError:        "ERR ",
}

var names = map[Type]string{
	TypeRequestEnter: "REQUEST_ENTER",
	TypeGrant:        "GRANT",
	TypeDeny:         "DENY",
	TypeRequestLeave: "REQUEST_LEAVE",
	TypeLeft:         "LEFT",
	TypeError:        "ERROR",
}

var byCode = func() map[string]Type {
	m := make(map[string]Type, len(codes))
	for t, c := range codes {
		m[c] = t
	}
	return m
}()

// Code retorna o código de 4 caracteres usado no fio.
func (t Type) Code() string { return codes[t] }

func (t Type) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

func (t Type) valid() bool {
	_, ok := codes[t]
	return ok
}

// Payload é um único par key=value. O valor zero significa "sem payload".
type Payload struct {
	Key   string
	Value string
}

func (p Payload) IsZero() bool { return p.Key == "" && p.Value == "" }

// Message é imutável: criada por Encode/Decode e consumida imediatamente.
type Message struct {
	ID      uint16
	Type    Type
	Payload Payload
}

func WithGroup(label string) Payload { return Payload{Key: KeyGroup, Value: label} }
func WithError(text string) Payload  { return Payload{Key: KeyMessage, Value: text} }

// Get retorna o valor do payload se a chave bater.
func (m Message) Get(key string) (string, bool) {
	if m.Payload.Key != key {
		return "", false
	}
	return m.Payload.Value, true
}

func (m Message) String() string {
	if m.Payload.IsZero() {
		return fmt.Sprintf("%04d %s", m.ID, m.Type)
	}
	return fmt.Sprintf("%04d %s %s=%s", m.ID, m.Type, m.Payload.Key, m.Payload.Value)
}

var (
	// ErrMalformed é o alvo de errors.Is para qualquer *DecodeError.
	ErrMalformed = errors.New("malformed frame")
	// ErrFrameTooLong indica um frame maior que o buffer de leitura.
	ErrFrameTooLong = errors.New("frame too long")
	ErrInvalidType  = errors.New("invalid message type")
	ErrInvalidField = errors.New("payload contains reserved characters")
)

// DecodeError descreve por que um frame foi rejeitado. Err, quando
// presente, é a causa específica (por exemplo ErrFrameTooLong).
type DecodeError struct {
	Reason string
	Frame  []byte
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed frame: %s (%q)", e.Reason, e.Frame)
}

func (e *DecodeError) Is(target error) bool { return target == ErrMalformed }

func (e *DecodeError) Unwrap() error { return e.Err }

func malformed(frame []byte, reason string) (Message, error) {
	return Message{}, &DecodeError{Reason: reason, Frame: bytes.Clone(frame)}
}

// Encode serializa m em um frame completo (incluindo CRLF).
func Encode(m Message) ([]byte, error) {
	return AppendFrame(make([]byte, 0, minLen+len(m.Payload.Key)+len(m.Payload.Value)+1), m)
}

// AppendFrame é Encode sem alocação extra quando buf já tem espaço.
func AppendFrame(buf []byte, m Message) ([]byte, error) {
	if !m.Type.valid() {
		return buf, fmt.Errorf("%w: %d", ErrInvalidType, m.Type)
	}
	if err := checkPayload(m.Payload); err != nil {
		return buf, err
	}

	id := int(m.ID) % MaxIDs
	buf = append(buf, '$')
	for div := 1000; div > 0; div /= 10 {
		buf = append(buf, byte('0'+id/div%10))
	}
	buf = append(buf, ':')
	buf = append(buf, m.Type.Code()...)
	buf = append(buf, ';')
	if !m.Payload.IsZero() {
		buf = append(buf, m.Payload.Key...)
		buf = append(buf, '=')
		buf = append(buf, m.Payload.Value...)
	}
	buf = append(buf, trailer...)
	return buf, nil
}

func checkPayload(p Payload) error {
	if p.IsZero() {
		return nil
	}
	if p.Key == "" || strings.ContainsAny(p.Key, "#;=\r\n") {
		return fmt.Errorf("%w: key %q", ErrInvalidField, p.Key)
	}
	if strings.ContainsAny(p.Value, "#\r\n") || strings.HasSuffix(p.Value, ";") {
		return fmt.Errorf("%w: value %q", ErrInvalidField, p.Value)
	}
	return nil
}

// Decode valida e interpreta um frame completo. Em caso de erro retorna
// sempre Message{} (nunca uma mensagem parcialmente preenchida) e um *DecodeError.
func Decode(frame []byte) (Message, error) {
	if len(frame) == 0 || frame[0] != '$' {
		return malformed(frame, "missing start marker '$'")
	}
	if len(frame) < minLen {
		return malformed(frame, "frame too short")
	}

	var id int
	for _, c := range frame[1:5] {
		if c < '0' || c > '9' {
			return malformed(frame, "id is not 4 decimal digits")
		}
		id = id*10 + int(c-'0')
	}
	if frame[5] != ':' {
		return malformed(frame, "missing ':' after id")
	}

	typ, ok := byCode[string(frame[typeOffset:typeOffset+4])]
	if !ok {
		return malformed(frame, "unknown type code")
	}
	if frame[headerLen-1] != ';' {
		return malformed(frame, "missing ';' after type")
	}

	body := frame[headerLen:]
	end := bytes.IndexByte(body, '#')
	if end < 0 {
		return malformed(frame, "missing end marker '#'")
	}
	if string(body[end:]) != trailer {
		return malformed(frame, "end marker not followed by CRLF")
	}

	// aceita um ';' final antes do '#' ("gender=M;#").
	raw := bytes.TrimSuffix(body[:end], []byte{';'})

	var p Payload
	if len(raw) > 0 {
		key, value, found := bytes.Cut(raw, []byte{'='})
		if !found || len(key) == 0 {
			return malformed(frame, "payload is not key=value")
		}
		if bytes.ContainsAny(key, ";\r\n") || bytes.ContainsAny(value, "\r\n") {
			return malformed(frame, "payload contains reserved characters")
		}
		p = Payload{Key: string(key), Value: string(value)}
	}

	return Message{ID: uint16(id), Type: typ, Payload: p}, nil
}

// Textos de erro enviados em TypeError.
const (
	MsgUnhandledGroup = "Unhandled gender"
	MsgNotEntered     = "Can't leave, not entered"
)
