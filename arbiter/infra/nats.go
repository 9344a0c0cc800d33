package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"restroom-gateway/arbiter/domain"

	"github.com/nats-io/nats.go"
)

// DefaultSubject é o prefixo dos subjects de ocupação; o evento vai para
// "<subject>.<outcome>" (ex: restroom.occupancy.left).
const DefaultSubject = "restroom.occupancy"

// OccupancyEvent é o corpo JSON publicado no NATS.
type OccupancyEvent struct {
	ConnID    string         `json:"conn_id,omitempty"`
	Peer      string         `json:"peer,omitempty"`
	Group     string         `json:"group"`
	Outcome   string         `json:"outcome"`
	Occupancy map[string]int `json:"occupancy"`
	At        time.Time      `json:"at"`
}

func newOccupancyEvent(ev domain.StatsEvent) OccupancyEvent {
	occ := make(map[string]int, len(ev.Occupancy))
	for _, gc := range ev.Occupancy {
		occ[string(gc.Group)] = gc.Count
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return OccupancyEvent{
		ConnID:    ev.ConnID,
		Peer:      ev.Peer,
		Group:     string(ev.Group),
		Outcome:   ev.Outcome.String(),
		Occupancy: occ,
		At:        at.UTC(),
	}
}

// NATSPublisher publica eventos de ocupação em subjects NATS.
// Implementa domain.StatsStore.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

var _ domain.StatsStore = (*NATSPublisher)(nil)

func NewNATSPublisher(url, subject string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc, subject: subjectOrDefault(subject)}, nil
}

func (p *NATSPublisher) Record(_ context.Context, ev domain.StatsEvent) error {
	data, err := json.Marshal(newOccupancyEvent(ev))
	if err != nil {
		return fmt.Errorf("marshaling occupancy event: %w", err)
	}
	return p.conn.Publish(p.subject+"."+ev.Outcome.String(), data)
}

// Flush espera o servidor confirmar as publicações pendentes.
func (p *NATSPublisher) Flush() error { return p.conn.Flush() }

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSWaiter é a variante push da espera do cliente: Wait dorme até d
// passar, mas acorda antes se o servidor publicar uma saída (vaga aberta).
// A entrada continua sendo obtida pelo HELO normal; isto só encurta o recuo.
type NATSWaiter struct {
	conn *nats.Conn
	sub  *nats.Subscription
	wake chan struct{}
}

func NewNATSWaiter(url, subject string, opts ...nats.Option) (*NATSWaiter, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	w := &NATSWaiter{conn: nc, wake: make(chan struct{}, 1)}
	topic := subjectOrDefault(subject) + "." + domain.OutcomeLeft.String()
	w.sub, err = nc.Subscribe(topic, func(*nats.Msg) {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}
	return w, nil
}

// Wait retorna nil quando d passa ou quando chega um aviso de vaga, e
// ctx.Err() se o contexto encerrar antes. Avisos recebidos antes da chamada
// são descartados.
func (w *NATSWaiter) Wait(ctx context.Context, d time.Duration) error {
	select {
	case <-w.wake:
	default:
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	case <-w.wake:
		return nil
	}
}

func (w *NATSWaiter) Close() error {
	_ = w.sub.Unsubscribe()
	w.conn.Close()
	return nil
}

func subjectOrDefault(s string) string {
	s = strings.Trim(strings.TrimSpace(s), ".")
	if s == "" {
		return DefaultSubject
	}
	return s
}
