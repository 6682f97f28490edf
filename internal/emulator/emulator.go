// Package emulator wires the dataplane into one runnable process: the
// router registry, the shared worker pool, the ingress socket, and the
// supervising errgroup that turns a fatal OS send error into a full
// shutdown (spec §5, §7).
package emulator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cutiedeng/netsim/internal/bufpool"
	"github.com/cutiedeng/netsim/internal/ingress"
	"github.com/cutiedeng/netsim/internal/metrics"
	"github.com/cutiedeng/netsim/internal/netsim"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// workerPoolSize bounds the pool that dispatches per-frame ingress work
// (spec §5: "a fixed-size worker pool"). Each submitted func completes
// quickly and returns a slot to the pool — unlike a router's forwarding
// task, which never returns, this pool must never host one (see New).
const workerPoolSize = 7

// Config configures an Emulator.
type Config struct {
	Logger         *slog.Logger
	ServerAddr     netip.AddrPort
	ControllerAddr netip.Addr

	// Clock is injected so tests can drive pacing and route-update ticks
	// deterministically (spec §8 properties 2, 3, 6).
	Clock clockwork.Clock
}

// DefaultConfig returns a Config using the spec's fixed addresses
// (spec GLOSSARY) and the real wall clock.
func DefaultConfig() *Config {
	return &Config{
		Logger:         slog.Default(),
		ServerAddr:     netip.MustParseAddrPort("127.67.117.116:52736"),
		ControllerAddr: netip.MustParseAddr("127.32.68.101"),
		Clock:          clockwork.NewRealClock(),
	}
}

// Validate fills in defaults and checks that the Config is runnable.
func (c *Config) Validate() error {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if !c.ServerAddr.IsValid() {
		return fmt.Errorf("emulator: ServerAddr is required")
	}
	if !c.ControllerAddr.IsValid() {
		return fmt.Errorf("emulator: ControllerAddr is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Emulator is the assembled dataplane: registry, buffer pool, worker pool,
// metrics, and the ingress listener, ready to Run.
type Emulator struct {
	log       *slog.Logger
	clock     clockwork.Clock
	registry  *netsim.Registry
	snapshots *netsim.RouteSnapshots
	metrics   *metrics.Metrics
	bufs      *bufpool.Pool
	pool      pond.Pool
	listener  *ingress.Listener

	// taskCtx and abort are set by Run. A router's forwarding task passes
	// taskCtx to Task.Run and calls abort if it returns a fatal error, so
	// one bad OS send tears the whole emulator down rather than wedging
	// silently (spec §7 "OS send error: fatal, abort the router task").
	taskCtx context.Context
	abort   context.CancelCauseFunc
}

// New binds the server socket and wires every component per cfg. A
// router's forwarding task is spawned on its own goroutine the moment the
// router is first referenced (spec §4.3); it only actually
// begins running once Run has set up taskCtx.
func New(cfg *Config) (*Emulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(cfg.ServerAddr))
	if err != nil {
		return nil, fmt.Errorf("emulator: listen %s: %w", cfg.ServerAddr, err)
	}

	e := &Emulator{
		log:       cfg.Logger,
		clock:     cfg.Clock,
		snapshots: netsim.NewRouteSnapshots(),
		metrics:   metrics.New(),
		bufs:      bufpool.New(),
		pool:      pond.NewPool(workerPoolSize),
	}

	// listener is assigned below, after the registry closure that
	// references it is constructed; the closure only runs once a router
	// is first referenced, which cannot happen before New returns.
	var listener *ingress.Listener

	e.registry = netsim.NewRegistry(func(r *netsim.Router) {
		task := netsim.NewTask(r, e.clock, e.snapshots, e.metrics, e.bufs, listener, cfg.Logger.With("component", "forwarding"))
		// A forwarding task never returns until shutdown, so it runs on its
		// own goroutine rather than on the bounded pool: pond's workers
		// only ever free up when a submitted func completes, and a graph
		// of more routers than pool slots would permanently starve both
		// client-frame dispatch and every router beyond the first few.
		go func() {
			if err := task.Run(e.taskCtx); err != nil {
				e.log.Error("forwarding task aborted", "router", r.Addr(), "error", err)
				e.abort(err)
			}
		}()
	})

	l, err := ingress.NewListener(&ingress.Config{
		Logger:         cfg.Logger.With("component", "ingress"),
		Conn:           conn,
		ControllerAddr: cfg.ControllerAddr,
		Registry:       e.registry,
		Pool:           e.pool,
		BufferPool:     e.bufs,
		Metrics:        e.metrics,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	listener = l
	e.listener = l

	return e, nil
}

// Run starts the ingress loop and the router-count gauge refresher, and
// blocks until ctx is cancelled or a forwarding task aborts fatally.
func (e *Emulator) Run(ctx context.Context) error {
	taskCtx, abort := context.WithCancelCause(ctx)
	e.taskCtx = taskCtx
	e.abort = abort
	defer abort(nil)

	e.snapshots.Start()
	defer e.snapshots.Stop()

	g, gctx := errgroup.WithContext(taskCtx)

	g.Go(func() error {
		return e.listener.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(netsim.PeriodUpdate / 4)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				e.metrics.SetRouterCount(e.registry.Len())
			}
		}
	})

	waitErr := g.Wait()
	if waitErr != nil {
		return waitErr
	}
	if cause := context.Cause(taskCtx); cause != nil && cause != context.Canceled {
		return cause
	}
	return nil
}

// Registry exposes the router registry, for a controller-less embedding
// that wants to script topology directly and for tests.
func (e *Emulator) Registry() *netsim.Registry {
	return e.registry
}
