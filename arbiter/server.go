package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"restroom-gateway/arbiter/application"
	"restroom-gateway/arbiter/infra"

	"golang.org/x/sync/errgroup"
)

// Server aceita conexões TCP e entrega cada uma a Handler em sua própria goroutine.
type Server struct {
	Addr    string
	Handler *Handler
	Gate    application.ConnectionGate
	Slots   application.ConcurrencyService
	Logger  *slog.Logger

	wg sync.WaitGroup
}

// ListenAndServe escuta em Addr e chama Serve. Falha de bind é retornada
// (fatal na inicialização).
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("could not bind to %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve aceita conexões de ln até ctx encerrar. No encerramento para de
// aceitar, fecha as conexões vivas e espera os handlers terminarem.
// Retorna nil em encerramento ordenado.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := s.logger().With("addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		return nil
	})
	g.Go(func() error {
		log.Info("waiting for connections")
		for {
			nc, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("could not accept connection: %w", err)
			}
			if !s.dispatch(gctx, log, nc) {
				return nil
			}
		}
	})

	err := g.Wait()
	s.wg.Wait()
	log.Info("server stopped")
	return err
}

// dispatch aplica o portão e o limite de conexões e inicia o handler.
// Retorna false se o servidor está encerrando.
func (s *Server) dispatch(ctx context.Context, log *slog.Logger, nc net.Conn) bool {
	key := infra.PeerKey(nc.RemoteAddr())

	if dec := s.Gate.Decide(key); !dec.Allowed {
		log.Warn("connection rate exceeded, disconnecting client", "peer", string(key))
		_ = nc.Close()
		return true
	}

	release, ok := s.Slots.Acquire(ctx)
	if !ok {
		_ = nc.Close()
		if ctx.Err() != nil {
			return false
		}
		log.Warn("connection limit reached, disconnecting client", "peer", string(key))
		return true
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		s.Handler.ServeConn(ctx, nc)
	}()
	log.Debug("handler assigned", "peer", nc.RemoteAddr().String())
	return true
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
