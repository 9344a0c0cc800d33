package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"restroom-gateway/arbiter"
	"restroom-gateway/arbiter/application"
	"restroom-gateway/arbiter/client"
	"restroom-gateway/arbiter/domain"
	"restroom-gateway/arbiter/infra"
	"restroom-gateway/arbiter/protocol"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

// Exemplo: servidor e clientes no mesmo processo, em loopback, com
// estatísticas em memória no final.
func main() {
	var (
		capacity   = pflag.Int("capacity", 3, "occupants per group")
		groupA     = pflag.String("group-a", "M", "first group label")
		groupB     = pflag.String("group-b", "F", "second group label")
		persons    = pflag.Int("persons", 5, "sessions per group")
		cycles     = pflag.Int("cycles", 3, "enter/leave cycles per session")
		backoffMax = pflag.Duration("backoff-max", 20*time.Millisecond, "maximum wait after BLOK")
		stayMax    = pflag.Duration("stay-max", 10*time.Millisecond, "maximum time inside")
		verbose    = pflag.BoolP("verbose", "v", false, "log every transition")
	)
	pflag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report, err := simulate(ctx, simConfig{
		capacity: *capacity,
		groups:   [2]domain.Group{domain.Group(*groupA), domain.Group(*groupB)},
		persons:  *persons,
		cycles:   *cycles,
		backoff:  client.Range{Max: *backoffMax},
		stay:     client.Range{Max: *stayMax},
		logger:   logger,
	})
	if err != nil {
		log.Fatalf("simulation failed: %v", err)
	}
	report.print(os.Stdout)
}

type simConfig struct {
	capacity int
	groups   [2]domain.Group
	persons  int
	cycles   int
	backoff  client.Range
	stay     client.Range
	logger   *slog.Logger
}

type simReport struct {
	elapsed time.Duration
	total   infra.Counters
	byGroup map[domain.Group]infra.Counters
	final   domain.Occupancy
	retries int
}

func (r simReport) print(w io.Writer) {
	fmt.Fprintf(w, "elapsed:   %s\n", r.elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "granted:   %d\n", r.total.Granted)
	fmt.Fprintf(w, "denied:    %d\n", r.total.Denied)
	fmt.Fprintf(w, "left:      %d\n", r.total.Left)
	fmt.Fprintf(w, "rejected:  %d\n", r.total.Rejected)
	fmt.Fprintf(w, "retries:   %d\n", r.retries)
	for g, c := range r.byGroup {
		fmt.Fprintf(w, "group %s:   granted=%d denied=%d left=%d\n", g, c.Granted, c.Denied, c.Left)
	}
	fmt.Fprintf(w, "occupancy: %s\n", r.final)
}

func simulate(ctx context.Context, cfg simConfig) (simReport, error) {
	ctrl, err := application.NewController(cfg.capacity, cfg.groups[0], cfg.groups[1])
	if err != nil {
		return simReport{}, err
	}
	stats := infra.NewMemoryStatsStore()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return simReport{}, fmt.Errorf("listen: %w", err)
	}
	srv := &arbiter.Server{
		Handler: &arbiter.Handler{Admission: ctrl, Stats: stats, Logger: cfg.logger},
		Slots:   application.ConcurrencyService{Pool: infra.NewChanPool(2 * cfg.persons)},
		Logger:  cfg.logger,
	}

	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Serve(srvCtx, ln) }()

	start := time.Now()
	results := make(chan client.Result, 2*cfg.persons)
	g, gctx := errgroup.WithContext(ctx)
	for _, group := range cfg.groups {
		for i := 0; i < cfg.persons; i++ {
			g.Go(func() error {
				nc, err := (&net.Dialer{}).DialContext(gctx, "tcp", ln.Addr().String())
				if err != nil {
					return err
				}
				conn := protocol.NewConn(nc)
				defer conn.Close()

				s := &client.Session{
					Conn:    conn,
					Group:   string(group),
					Backoff: cfg.backoff,
					Stay:    cfg.stay,
					Logger:  cfg.logger,
				}
				res, err := s.Repeat(gctx, cfg.cycles)
				results <- res
				return err
			})
		}
	}
	runErr := g.Wait()
	close(results)

	stopServer()
	if err := <-srvErr; err != nil && runErr == nil {
		runErr = err
	}

	report := simReport{
		elapsed: time.Since(start),
		total:   stats.Total(),
		byGroup: stats.ByGroup(),
		final:   ctrl.Snapshot(),
	}
	for r := range results {
		report.retries += r.Retries
	}
	return report, runErr
}
