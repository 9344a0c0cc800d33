package arbiter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"restroom-gateway/arbiter/domain"
	"restroom-gateway/arbiter/protocol"

	"github.com/google/uuid"
)

// Handler atende uma conexão de cliente por vez (ServeConn é chamado em uma
// goroutine por conexão). É o único componente que registra mudanças de ocupação.
type Handler struct {
	Admission domain.Admission
	Stats     domain.StatsStore
	Logger    *slog.Logger
}

type session struct {
	id   string
	peer string
	conn *protocol.Conn
	log  *slog.Logger
}

// ServeConn roda o laço OPEN -> CLOSING de uma conexão até EOF, frame
// malformado, erro de transporte ou cancelamento de ctx. Sempre fecha nc.
func (h *Handler) ServeConn(ctx context.Context, nc net.Conn) {
	s := &session{
		id:   uuid.NewString(),
		peer: peerString(nc),
		conn: protocol.NewConn(nc),
	}
	s.log = h.logger().With("conn_id", s.id, "peer", s.peer)

	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()
	defer s.conn.Close()

	s.log.Info("connection accepted")
	for {
		req, err := s.conn.Receive()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.log.Info("client disconnected")
			case errors.Is(err, protocol.ErrMalformed):
				s.log.Warn("wrong message format, disconnecting client", "err", err)
			case ctx.Err() != nil:
				s.log.Info("connection closed on shutdown")
			default:
				s.log.Error("receive failed", "err", err)
			}
			return
		}
		s.log.Debug("frame received", "msg", req.String())

		switch req.Type {
		case protocol.TypeRequestEnter, protocol.TypeRequestLeave:
			h.handleRequest(ctx, s, req)
		default:
			// Fora do protocolo no lado servidor: lido e ignorado, sem resposta.
			s.log.Debug("ignoring message", "type", req.Type.String(), "id", req.ID)
		}
	}
}

func (h *Handler) handleRequest(ctx context.Context, s *session, req protocol.Message) {
	label, _ := req.Get(protocol.KeyGroup)
	g := domain.Group(label)

	var (
		v   domain.Verdict
		err error
	)
	if req.Type == protocol.TypeRequestEnter {
		v, err = h.Admission.TryEnter(g)
	} else {
		v, err = h.Admission.Leave(g)
	}
	if err != nil {
		if errors.Is(err, domain.ErrUnknownGroup) {
			s.log.Warn("unhandled group", "type", req.Type.String(), "group", label)
		} else {
			s.log.Error("admission failed", "type", req.Type.String(), "err", err)
		}
		h.reply(s, req, protocol.TypeError, protocol.WithError(protocol.MsgUnhandledGroup))
		return
	}

	h.observe(ctx, s, g, v)

	switch v.Outcome {
	case domain.OutcomeGranted:
		h.reply(s, req, protocol.TypeGrant, protocol.Payload{})
	case domain.OutcomeDenied:
		h.reply(s, req, protocol.TypeDeny, protocol.Payload{})
	case domain.OutcomeLeft:
		h.reply(s, req, protocol.TypeLeft, protocol.Payload{})
	case domain.OutcomeRejected:
		h.reply(s, req, protocol.TypeError, protocol.WithError(protocol.MsgNotEntered))
	}
}

// observe loga a transição com a ocupação resultante e grava em Stats
// (best-effort).
func (h *Handler) observe(ctx context.Context, s *session, g domain.Group, v domain.Verdict) {
	var msg string
	switch v.Outcome {
	case domain.OutcomeGranted:
		msg = "user entered"
	case domain.OutcomeDenied:
		msg = "user can't enter now"
	case domain.OutcomeLeft:
		msg = "user left"
	case domain.OutcomeRejected:
		msg = "user can't leave, not entered"
	}
	s.log.Info(msg,
		"group", string(g),
		"outcome", v.Outcome.String(),
		"in_group", v.Occupancy.Count(g),
		"occupancy", v.Occupancy.String(),
	)

	if h.Stats == nil {
		return
	}
	err := h.Stats.Record(ctx, domain.StatsEvent{
		ConnID:    s.id,
		Peer:      s.peer,
		Group:     g,
		Outcome:   v.Outcome,
		Occupancy: v.Occupancy,
		At:        time.Now(),
	})
	if err != nil {
		s.log.Debug("stats record failed", "err", err)
	}
}

// reply envia a resposta; falha de escrita é logada e o laço segue (a
// próxima leitura observa o stream fechado).
func (h *Handler) reply(s *session, req protocol.Message, t protocol.Type, p protocol.Payload) {
	if _, err := s.conn.Reply(req, t, p); err != nil {
		s.log.Warn("reply failed", "type", t.String(), "id", req.ID, "err", err)
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func peerString(nc net.Conn) string {
	if a := nc.RemoteAddr(); a != nil {
		return a.String()
	}
	return "unknown"
}
