// Package ingress owns the emulator's single server UDP socket: it reads
// every inbound datagram, classifies it as a controller command or a
// client frame, and dispatches accordingly (spec §4.7).
package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cutiedeng/netsim/internal/bufpool"
	"github.com/cutiedeng/netsim/internal/ctrlparse"
	"github.com/cutiedeng/netsim/internal/metrics"
	"github.com/cutiedeng/netsim/internal/netsim"
	"github.com/cutiedeng/netsim/internal/wire"
)

// readTimeout bounds how long a single recv_from blocks before the loop
// re-checks ctx, matching the teacher's multicast.Listener poll interval.
const readTimeout = 250 * time.Millisecond

// Config configures a Listener.
type Config struct {
	Logger         *slog.Logger
	Conn           *net.UDPConn
	ControllerAddr netip.Addr
	Registry       *netsim.Registry
	Pool           pond.Pool
	BufferPool     *bufpool.Pool
	Metrics        *metrics.Metrics
}

// Validate checks that Config has everything a Listener needs to run.
func (c *Config) Validate() error {
	if c.Conn == nil {
		return fmt.Errorf("ingress: Conn is required")
	}
	if !c.ControllerAddr.IsValid() {
		return fmt.Errorf("ingress: ControllerAddr is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("ingress: Registry is required")
	}
	if c.Pool == nil {
		return fmt.Errorf("ingress: Pool is required")
	}
	if c.BufferPool == nil {
		return fmt.Errorf("ingress: BufferPool is required")
	}
	if c.Metrics == nil {
		return fmt.Errorf("ingress: Metrics is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Listener owns the server UDP socket and implements the spec §4.7
// classify-and-dispatch loop. It also serves as the netsim.Sender every
// router's forwarding task uses for self-addressed delivery, since a
// reply to a client must go out the same socket it arrived on.
type Listener struct {
	log      *slog.Logger
	conn     *net.UDPConn
	ctrlAddr netip.Addr
	registry *netsim.Registry
	pool     pond.Pool
	bufs     *bufpool.Pool
	metrics  *metrics.Metrics
}

// NewListener validates cfg and returns a ready Listener bound to an
// already-open socket.
func NewListener(cfg *Config) (*Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Listener{
		log:      cfg.Logger,
		conn:     cfg.Conn,
		ctrlAddr: cfg.ControllerAddr,
		registry: cfg.Registry,
		pool:     cfg.Pool,
		bufs:     cfg.BufferPool,
		metrics:  cfg.Metrics,
	}, nil
}

// SendTo implements netsim.Sender by writing to the same socket the
// listener reads from.
func (l *Listener) SendTo(buf []byte, addr netip.AddrPort) error {
	_, err := l.conn.WriteToUDPAddrPort(buf, addr)
	return err
}

// Run loops reading and dispatching datagrams until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.log.Info("ingress listening", "addr", l.conn.LocalAddr())

	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		buf := l.bufs.Acquire()

		if err := l.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			l.bufs.Release(buf)
			l.log.Error("failed to set read deadline", "error", err)
			continue
		}

		n, srcAddr, err := l.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			l.bufs.Release(buf)
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Error("error reading ingress socket", "error", err)
			continue
		}

		l.classify(buf, n, srcAddr)
	}
}

// classify implements spec §4.7 step 3: oversize check, then controller vs
// client vs unknown-source dispatch.
func (l *Listener) classify(buf []byte, n int, src netip.AddrPort) {
	if n == wire.MessageLength {
		l.metrics.RecordReceive(n)
		l.bufs.Release(buf)
		l.log.Warn("oversize frame dropped", "source", src)
		return
	}

	if src.Addr() == l.ctrlAddr {
		text := string(buf[:n])
		l.bufs.Release(buf)
		if err := ctrlparse.Apply(l.registry, text, l.log); err != nil {
			l.log.Warn("controller parse error", "error", err)
		}
		return
	}

	if !src.Addr().Is4() {
		l.bufs.Release(buf)
		return
	}

	router, ok := l.registry.Lookup(src.Addr())
	if !ok {
		l.bufs.Release(buf)
		return
	}

	l.pool.Submit(func() {
		l.dispatchClientFrame(router, buf, n, src)
	})
}

// dispatchClientFrame runs the per-frame "validate through push to inbox"
// work on the shared worker pool, so the ingress loop is never blocked by
// it (spec §4.7 "Spawning per-frame").
func (l *Listener) dispatchClientFrame(router *netsim.Router, buf []byte, n int, src netip.AddrPort) {
	if n < wire.HeaderLength {
		l.bufs.Release(buf)
		return
	}

	target, port, err := wire.Decode(buf[:n])
	if err != nil {
		l.bufs.Release(buf)
		return
	}

	l.metrics.RecordReceive(n)

	wire.EncodeSource(buf, src.Addr(), src.Port())

	msg := &netsim.Message{
		Target: netip.AddrPortFrom(target, port),
		Buffer: buf,
		Length: n,
	}
	router.Push(msg)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
