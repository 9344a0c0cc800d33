package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"restroom-gateway/arbiter/client"
	"restroom-gateway/arbiter/infra"
	"restroom-gateway/arbiter/protocol"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type options struct {
	host  string
	port  string
	group string

	persons    int
	cycles     int
	backoffMin time.Duration
	backoffMax time.Duration
	stayMin    time.Duration
	stayMax    time.Duration

	notifyURL     string
	notifySubject string

	quiet   bool
	verbose bool
}

func parseArgs(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("restroom-client", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: restroom-client [flags] hostname port gender\n")
		fs.PrintDefaults()
	}
	fs.IntVar(&o.persons, "persons", 1, "number of independent sessions (one connection each)")
	fs.IntVar(&o.cycles, "cycles", 1, "enter/leave cycles per session (0 = until interrupted)")
	fs.DurationVar(&o.backoffMin, "backoff-min", 0, "minimum wait after BLOK")
	fs.DurationVar(&o.backoffMax, "backoff-max", 9*time.Second, "maximum wait after BLOK")
	fs.DurationVar(&o.stayMin, "stay-min", 0, "minimum time inside before EXIT")
	fs.DurationVar(&o.stayMax, "stay-max", 9*time.Second, "maximum time inside before EXIT")
	fs.StringVar(&o.notifyURL, "notify-url", "", "NATS URL for early wake-up on vacancy (optional)")
	fs.StringVar(&o.notifySubject, "notify-subject", infra.DefaultSubject, "NATS subject prefix of occupancy events")
	fs.BoolVarP(&o.quiet, "quiet", "q", false, "do not print frames")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() < 3 {
		fs.Usage()
		return o, errors.New("missing arguments")
	}
	o.host, o.port, o.group = fs.Arg(0), fs.Arg(1), fs.Arg(2)

	if o.persons <= 0 {
		return o, errors.New("--persons must be > 0")
	}
	if o.backoffMax < o.backoffMin || o.stayMax < o.stayMin {
		return o, errors.New("max durations must be >= min durations")
	}
	return o, nil
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("%v", err)
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var waiter client.Waiter
	if opts.notifyURL != "" {
		w, err := infra.NewNATSWaiter(opts.notifyURL, opts.notifySubject)
		if err != nil {
			log.Fatalf("notify: %v", err)
		}
		defer func() { _ = w.Close() }()
		waiter = w
	}

	out := &printer{w: os.Stdout, quiet: opts.quiet}
	addr := net.JoinHostPort(opts.host, opts.port)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.persons; i++ {
		g.Go(func() error {
			nc, err := (&net.Dialer{Timeout: 5 * time.Second}).DialContext(gctx, "tcp", addr)
			if err != nil {
				return fmt.Errorf("ERROR connecting: %w", err)
			}
			conn := protocol.NewConn(nc)
			defer conn.Close()

			s := &client.Session{
				Conn:    conn,
				Group:   opts.group,
				Backoff: client.Range{Min: opts.backoffMin, Max: opts.backoffMax},
				Stay:    client.Range{Min: opts.stayMin, Max: opts.stayMax},
				Waiter:  waiter,
				Logger:  logger,
			}
			s.OnFrame = out.frame(opts.group)

			out.printf("Person: %s\n", opts.group)
			res, err := s.Repeat(gctx, opts.cycles)
			if err != nil {
				return err
			}
			out.printf("%s done: retries=%d waited=%s stayed=%s\n", opts.group, res.Retries, res.Waited.Round(time.Millisecond), res.Stayed.Round(time.Millisecond))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		var se *client.ServerError
		if errors.As(err, &se) {
			log.Fatalf("Toilet: %s", se.Message)
		}
		log.Fatalf("%v", err)
	}
}

// printer serializa a saída das sessões concorrentes.
type printer struct {
	mu    sync.Mutex
	w     io.Writer
	quiet bool
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) frame(group string) func(client.Direction, protocol.Message) {
	return func(dir client.Direction, m protocol.Message) {
		if p.quiet {
			return
		}
		raw, err := protocol.Encode(m)
		if err != nil {
			return
		}
		if dir == client.Sent {
			p.printf("%s: %s", group, raw)
			return
		}
		p.printf("Toilet: %s", raw)
		if m.Type == protocol.TypeDeny {
			p.printf("You have to wait until it is space!\n")
		}
	}
}
