package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize é o maior frame aceito por leitura (tamanho do buffer de recepção).
const MaxFrameSize = 2048

// Conn é uma conexão com framing: lê um frame por vez e escreve frames
// carimbados com um contador local de ids.
//
// Receive não é seguro para uso concorrente; Send/Reply são serializados
// internamente.
type Conn struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader

	wmu    sync.Mutex
	nextID uint16
	wbuf   []byte
}

// NewConn embrulha rwc. O primeiro id enviado por Send é 1.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		rwc:    rwc,
		r:      bufio.NewReaderSize(rwc, MaxFrameSize),
		nextID: 1,
	}
}

// Receive lê e decodifica o próximo frame.
//
// Retorna io.EOF apenas quando o stream termina entre frames (desconexão
// limpa). Um stream que termina no meio de um frame, ou um frame maior que
// MaxFrameSize, resulta em *DecodeError.
func (c *Conn) Receive() (Message, error) {
	line, err := c.r.ReadSlice('\n')
	switch {
	case err == nil:
		return Decode(line)
	case errors.Is(err, bufio.ErrBufferFull):
		// o restante da linha continua no buffer; o chamador deve fechar a conexão.
		return Message{}, &DecodeError{Reason: ErrFrameTooLong.Error(), Frame: truncate(line), Err: ErrFrameTooLong}
	case errors.Is(err, io.EOF):
		if len(line) == 0 {
			return Message{}, io.EOF
		}
		if _, derr := Decode(line); derr != nil {
			return Message{}, derr
		}
		return Message{}, io.ErrUnexpectedEOF
	default:
		return Message{}, err
	}
}

// Send carimba o próximo id local em um frame do tipo t e o escreve.
func (c *Conn) Send(t Type, p Payload) (Message, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	m := Message{ID: c.nextID, Type: t, Payload: p}
	if err := c.writeLocked(m); err != nil {
		return m, err
	}
	c.nextID = (c.nextID + 1) % MaxIDs
	return m, nil
}

// Reply responde req ecoando o id da requisição.
func (c *Conn) Reply(req Message, t Type, p Payload) (Message, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	m := Message{ID: req.ID, Type: t, Payload: p}
	return m, c.writeLocked(m)
}

func (c *Conn) writeLocked(m Message) error {
	buf, err := AppendFrame(c.wbuf[:0], m)
	if err != nil {
		return err
	}
	c.wbuf = buf
	if _, err := c.rwc.Write(buf); err != nil {
		return fmt.Errorf("write %s: %w", m.Type, err)
	}
	return nil
}

func (c *Conn) Close() error { return c.rwc.Close() }

func truncate(b []byte) []byte {
	const max = 64
	if len(b) > max {
		b = b[:max]
	}
	return append([]byte(nil), b...)
}
