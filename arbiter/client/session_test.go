package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"restroom-gateway/arbiter/protocol"
)

// scriptedServer responde a cada frame recebido com o próximo tipo do script.
type scriptedServer struct {
	conn     *protocol.Conn
	script   []protocol.Message
	received chan protocol.Message
}

func startScripted(t *testing.T, script ...protocol.Message) (*protocol.Conn, *scriptedServer) {
	t.Helper()
	a, b := net.Pipe()
	srv := &scriptedServer{conn: protocol.NewConn(b), script: script, received: make(chan protocol.Message, 64)}
	go func() {
		defer srv.conn.Close()
		for _, reply := range srv.script {
			req, err := srv.conn.Receive()
			if err != nil {
				return
			}
			srv.received <- req
			if _, err := srv.conn.Reply(req, reply.Type, reply.Payload); err != nil {
				return
			}
		}
		// segura a conexão aberta até o cliente fechar
		_, _ = srv.conn.Receive()
	}()
	c := protocol.NewConn(a)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func reply(t protocol.Type) protocol.Message { return protocol.Message{Type: t} }

func errReply(text string) protocol.Message {
	return protocol.Message{Type: protocol.TypeError, Payload: protocol.WithError(text)}
}

type recordingWaiter struct {
	waits []time.Duration
}

func (w *recordingWaiter) Wait(ctx context.Context, d time.Duration) error {
	w.waits = append(w.waits, d)
	return ctx.Err()
}

func fixed(v int64) func(int64) int64 { return func(int64) int64 { return v } }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSession_GrantedImmediately(t *testing.T) {
	conn, srv := startScripted(t, reply(protocol.TypeGrant), reply(protocol.TypeLeft))

	var transitions []State
	s := &Session{
		Conn:         conn,
		Group:        "A",
		Logger:       quiet(),
		OnTransition: func(_, to State) { transitions = append(transitions, to) },
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.State() != StateDone {
		t.Fatalf("expected DONE, got %s", s.State())
	}
	want := []State{StateInside, StateLeaving, StateDone}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
	if res.Retries != 0 || res.Sent != 2 || res.Received != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	hello, exit := <-srv.received, <-srv.received
	if g, _ := hello.Get(protocol.KeyGroup); hello.Type != protocol.TypeRequestEnter || g != "A" || hello.ID != 1 {
		t.Fatalf("unexpected first frame %+v", hello)
	}
	if g, _ := exit.Get(protocol.KeyGroup); exit.Type != protocol.TypeRequestLeave || g != "A" || exit.ID != 2 {
		t.Fatalf("unexpected second frame %+v", exit)
	}
}

func TestSession_RetriesAfterDenyWithRandomBackoff(t *testing.T) {
	conn, srv := startScripted(t,
		reply(protocol.TypeDeny),
		reply(protocol.TypeDeny),
		reply(protocol.TypeGrant),
		reply(protocol.TypeLeft),
	)

	w := &recordingWaiter{}
	s := &Session{
		Conn:    conn,
		Group:   "B",
		Backoff: Range{Min: time.Second, Max: 9 * time.Second},
		Waiter:  w,
		Int64N:  fixed(int64(2 * time.Second)),
		Logger:  quiet(),
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Retries != 2 || res.Sent != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(w.waits) != 2 || w.waits[0] != 3*time.Second {
		t.Fatalf("expected two 3s backoffs, got %v", w.waits)
	}

	var types []protocol.Type
	for i := 0; i < 4; i++ {
		types = append(types, (<-srv.received).Type)
	}
	want := []protocol.Type{protocol.TypeRequestEnter, protocol.TypeRequestEnter, protocol.TypeRequestEnter, protocol.TypeRequestLeave}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("frames = %v, want %v", types, want)
		}
	}
}

func TestSession_ServerErrorOnEnterIsTerminal(t *testing.T) {
	conn, _ := startScripted(t, errReply(protocol.MsgUnhandledGroup))

	s := &Session{Conn: conn, Group: "X", Logger: quiet()}
	_, err := s.Run(context.Background())

	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ServerError, got %v", err)
	}
	if se.Message != "Unhandled gender" || se.State != StateGreeting {
		t.Fatalf("unexpected server error %+v", se)
	}
}

func TestSession_ServerErrorOnLeave(t *testing.T) {
	conn, _ := startScripted(t, reply(protocol.TypeGrant), errReply(protocol.MsgNotEntered))

	s := &Session{Conn: conn, Group: "A", Logger: quiet()}
	_, err := s.Run(context.Background())

	var se *ServerError
	if !errors.As(err, &se) || se.State != StateLeaving || se.Message != protocol.MsgNotEntered {
		t.Fatalf("expected not-entered error while leaving, got %v", err)
	}
}

func TestSession_UnexpectedMessageIsProtocolFault(t *testing.T) {
	cases := [][]protocol.Message{
		{reply(protocol.TypeLeft)},
		{reply(protocol.TypeRequestEnter)},
		{reply(protocol.TypeGrant), reply(protocol.TypeGrant)},
		{reply(protocol.TypeGrant), reply(protocol.TypeDeny)},
	}
	for i, script := range cases {
		conn, _ := startScripted(t, script...)
		s := &Session{Conn: conn, Group: "A", Logger: quiet()}
		if _, err := s.Run(context.Background()); !errors.Is(err, ErrUnexpectedMessage) {
			t.Fatalf("case %d: expected ErrUnexpectedMessage, got %v", i, err)
		}
	}
}

func TestSession_ServerHangupIsAnError(t *testing.T) {
	a, b := net.Pipe()
	go func() {
		srv := protocol.NewConn(b)
		_, _ = srv.Receive()
		_ = srv.Close()
	}()

	s := &Session{Conn: protocol.NewConn(a), Group: "A", Logger: quiet()}
	_, err := s.Run(context.Background())
	if err == nil || !errors.Is(err, io.EOF) {
		t.Fatalf("expected wrapped io.EOF, got %v", err)
	}
}

func TestSession_CancelStopsWaiting(t *testing.T) {
	conn, _ := startScripted(t, reply(protocol.TypeDeny))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		Conn:    conn,
		Group:   "A",
		Backoff: Range{Min: time.Hour, Max: time.Hour},
		Logger:  quiet(),
		OnTransition: func(_, to State) {
			if to == StateWaiting {
				cancel()
			}
		},
	}
	done := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not stop on cancel")
	}
}

func TestSession_RepeatRunsSeveralCycles(t *testing.T) {
	conn, _ := startScripted(t,
		reply(protocol.TypeGrant), reply(protocol.TypeLeft),
		reply(protocol.TypeDeny), reply(protocol.TypeGrant), reply(protocol.TypeLeft),
	)
	s := &Session{Conn: conn, Group: "A", Waiter: &recordingWaiter{}, Logger: quiet()}

	res, err := s.Repeat(context.Background(), 2)
	if err != nil {
		t.Fatalf("Repeat: %v", err)
	}
	if res.Sent != 5 || res.Retries != 1 {
		t.Fatalf("unexpected aggregate %+v", res)
	}
}

func TestRange_Pick(t *testing.T) {
	if got := (Range{Min: 2 * time.Second}).pick(fixed(99)); got != 2*time.Second {
		t.Fatalf("degenerate range should return Min, got %s", got)
	}
	if got := (Range{Min: -time.Second}).pick(fixed(0)); got != 0 {
		t.Fatalf("negative range should clamp to 0, got %s", got)
	}
	r := Range{Min: 0, Max: 9 * time.Second}
	var gotN int64
	_ = r.pick(func(n int64) int64 { gotN = n; return 0 })
	if gotN != int64(9*time.Second)+1 {
		t.Fatalf("expected inclusive upper bound, got n=%d", gotN)
	}
}
