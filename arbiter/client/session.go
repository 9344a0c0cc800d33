package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"restroom-gateway/arbiter/protocol"

	"github.com/google/uuid"
)

type State uint8

const (
	StateGreeting State = iota + 1
	StateWaiting
	StateInside
	StateLeaving
	StateDone
)

func (s State) String() string {
	switch s {
	case StateGreeting:
		return "GREETING"
	case StateWaiting:
		return "WAITING"
	case StateInside:
		return "INSIDE"
	case StateLeaving:
		return "LEAVING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// ErrUnexpectedMessage é uma falha de protocolo: o servidor enviou um tipo
// que não faz sentido no estado atual.
var ErrUnexpectedMessage = errors.New("unexpected message")

// ServerError é uma resposta ERR do servidor; encerra o ciclo atual.
type ServerError struct {
	State   State
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error in %s: %s", e.State, e.Message)
}

// Range é um intervalo fechado [Min, Max] para sorteio uniforme.
type Range struct {
	Min time.Duration
	Max time.Duration
}

func (r Range) pick(int64n func(int64) int64) time.Duration {
	if r.Max <= r.Min {
		return max(r.Min, 0)
	}
	return r.Min + time.Duration(int64n(int64(r.Max-r.Min)+1))
}

// Waiter é como a sessão espera entre tentativas (estado WAITING).
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

// SleepWaiter espera o tempo inteiro (contrato de polling padrão).
type SleepWaiter struct{}

func (SleepWaiter) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Direction uint8

const (
	Sent Direction = iota + 1
	Received
)

// Result resume um ciclo.
type Result struct {
	Retries  int
	Waited   time.Duration
	Stayed   time.Duration
	Sent     int
	Received int
}

func (r *Result) add(o Result) {
	r.Retries += o.Retries
	r.Waited += o.Waited
	r.Stayed += o.Stayed
	r.Sent += o.Sent
	r.Received += o.Received
}

// Session dirige um cliente lógico por uma conexão.
//
// Conn e Group são obrigatórios. Backoff é o recuo após BLOK, Stay o tempo
// dentro antes do EXIT. Os hooks OnTransition/OnFrame servem à camada de
// apresentação e rodam na goroutine de Run.
type Session struct {
	Conn    *protocol.Conn
	Group   string
	Backoff Range
	Stay    Range

	// Waiter é usado no estado WAITING; nil = SleepWaiter.
	Waiter Waiter
	// Int64N sorteia em [0, n); nil = math/rand/v2.
	Int64N func(n int64) int64
	Logger *slog.Logger

	OnTransition func(from, to State)
	OnFrame      func(dir Direction, m protocol.Message)

	id    string
	state State
}

func (s *Session) State() State { return s.state }

// ID identifica a sessão nos logs.
func (s *Session) ID() string {
	if s.id == "" {
		s.id = uuid.NewString()
	}
	return s.id
}

// Run executa um ciclo completo até DONE. Cancelar ctx fecha a conexão.
func (s *Session) Run(ctx context.Context) (Result, error) {
	var res Result
	log := s.logger().With("session", s.ID(), "group", s.Group)

	stop := context.AfterFunc(ctx, func() { _ = s.Conn.Close() })
	defer stop()

	s.state = StateGreeting
	if err := s.send(&res, protocol.TypeRequestEnter); err != nil {
		return res, err
	}

	for {
		m, err := s.Conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, fmt.Errorf("receive in %s: %w", s.state, err)
		}
		res.Received++
		if s.OnFrame != nil {
			s.OnFrame(Received, m)
		}

		switch s.state {
		case StateGreeting, StateWaiting:
			switch m.Type {
			case protocol.TypeGrant:
				s.transition(StateInside)
				stay := s.Stay.pick(s.int64n())
				log.Debug("entered", "retries", res.Retries, "stay", stay)
				if err := (SleepWaiter{}).Wait(ctx, stay); err != nil {
					return res, err
				}
				res.Stayed += stay
				if err := s.send(&res, protocol.TypeRequestLeave); err != nil {
					return res, err
				}
				s.transition(StateLeaving)
			case protocol.TypeDeny:
				s.transition(StateWaiting)
				res.Retries++
				backoff := s.Backoff.pick(s.int64n())
				log.Debug("blocked, backing off", "backoff", backoff)
				start := time.Now()
				if err := s.waiter().Wait(ctx, backoff); err != nil {
					return res, err
				}
				res.Waited += time.Since(start)
				if err := s.send(&res, protocol.TypeRequestEnter); err != nil {
					return res, err
				}
			case protocol.TypeError:
				return res, s.serverError(m)
			default:
				return res, s.unexpected(m)
			}

		case StateLeaving:
			switch m.Type {
			case protocol.TypeLeft:
				s.transition(StateDone)
				log.Debug("left", "retries", res.Retries)
				return res, nil
			case protocol.TypeError:
				return res, s.serverError(m)
			default:
				return res, s.unexpected(m)
			}

		default:
			return res, s.unexpected(m)
		}
	}
}

// Repeat roda Run cycles vezes (cycles <= 0: até ctx encerrar ou erro),
// acumulando os resultados.
func (s *Session) Repeat(ctx context.Context, cycles int) (Result, error) {
	var total Result
	for i := 0; cycles <= 0 || i < cycles; i++ {
		res, err := s.Run(ctx)
		total.add(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Session) send(res *Result, t protocol.Type) error {
	m, err := s.Conn.Send(t, protocol.WithGroup(s.Group))
	if err != nil {
		return fmt.Errorf("send %s in %s: %w", t, s.state, err)
	}
	res.Sent++
	if s.OnFrame != nil {
		s.OnFrame(Sent, m)
	}
	return nil
}

func (s *Session) transition(to State) {
	from := s.state
	s.state = to
	if s.OnTransition != nil && from != to {
		s.OnTransition(from, to)
	}
}

func (s *Session) serverError(m protocol.Message) error {
	text, _ := m.Get(protocol.KeyMessage)
	return &ServerError{State: s.state, Message: text}
}

func (s *Session) unexpected(m protocol.Message) error {
	s.logger().Warn("unexpected message, terminating session", "session", s.ID(), "state", s.state.String(), "type", m.Type.String())
	return fmt.Errorf("%w: %s in %s", ErrUnexpectedMessage, m.Type, s.state)
}

func (s *Session) waiter() Waiter {
	if s.Waiter != nil {
		return s.Waiter
	}
	return SleepWaiter{}
}

func (s *Session) int64n() func(int64) int64 {
	if s.Int64N != nil {
		return s.Int64N
	}
	return rand.Int64N
}

func (s *Session) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
