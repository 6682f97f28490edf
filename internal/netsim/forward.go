package netsim

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"runtime"
	"time"

	"github.com/cutiedeng/netsim/internal/bufpool"
	"github.com/cutiedeng/netsim/internal/metrics"
	"github.com/jonboulle/clockwork"
)

// Sender is the OS send path a router's forwarding task uses to deliver a
// Message addressed to itself out to the real client socket (spec §4.5
// step 3, self-delivery case). It is the one place a send error is fatal
// (spec §7: "OS send error: fatal, abort the router task").
type Sender interface {
	SendTo(buf []byte, addr netip.AddrPort) error
}

// Task is one router's long-lived forwarding loop (spec §4.5). Exactly one
// Task runs per router, started by the registry's spawn hook at router
// creation time (spec §4.3); the emulator runs it on its own goroutine.
type Task struct {
	router     *Router
	clock      clockwork.Clock
	snapshots  *RouteSnapshots
	metrics    *metrics.Metrics
	pool       *bufpool.Pool
	sender     Sender
	log        *slog.Logger
	lastUpdate time.Time
}

// NewTask wires a forwarding task for router. sender is used only for
// self-addressed packets; pool reclaims buffers on every drop and delivery
// path so a buffer is released exactly once no matter which branch a
// Message takes.
func NewTask(router *Router, clock clockwork.Clock, snapshots *RouteSnapshots, m *metrics.Metrics, pool *bufpool.Pool, sender Sender, log *slog.Logger) *Task {
	return &Task{
		router:    router,
		clock:     clock,
		snapshots: snapshots,
		metrics:   m,
		pool:      pool,
		sender:    sender,
		log:       log.With("router", router.Addr().String()),
	}
}

// Run executes the forwarding loop until ctx is cancelled or an OS send
// error makes the router's forwarding position unrecoverable. Returning a
// non-nil error is the caller's signal to begin shutdown; the emulator
// cancels its shared task context on it (spec §7 OS send error row).
func (t *Task) Run(ctx context.Context) error {
	t.lastUpdate = t.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		drained := t.drainInbox()
		popped, err := t.step()
		if err != nil {
			return err
		}

		if t.clock.Now().Sub(t.lastUpdate) > PeriodUpdate {
			t.router.recomputeRoutes(t.snapshots)
			t.lastUpdate = t.clock.Now()
			t.metrics.SetRouteTableSize(t.router.Addr().String(), len(t.router.Routes()))
		}

		t.metrics.SetQueueDepth(t.router.Addr().String(), t.router.QueueLen())

		if !drained && !popped {
			runtime.Gosched()
		}
	}
}

// drainInbox moves every currently-queued inbound Message into the bounded
// forwarding queue, dropping on overflow (spec §4.5 step 1). Returns true
// if at least one message was drained (used only to decide whether the
// loop made progress this iteration).
func (t *Task) drainInbox() bool {
	drained := false
	for {
		m, ok := t.router.inbox.TryRecv()
		if !ok {
			return drained
		}
		drained = true
		if !t.router.enqueue(m) {
			t.drop(fmt.Sprintf("queue overflow at %s", t.router.Addr()), m)
		}
	}
}

// step pops at most one queued packet and routes it (spec §4.5 steps 2-4).
// Returns popped=true if a packet was dequeued, regardless of whether it
// was ultimately delivered or dropped.
func (t *Task) step() (popped bool, err error) {
	m, ok := t.router.dequeue()
	if !ok {
		return false, nil
	}

	dstAddr := m.Target.Addr()

	if dstAddr == t.router.Addr() {
		if sendErr := t.sender.SendTo(m.Buffer[:m.Length], m.Target); sendErr != nil {
			t.log.Error("OS send failed, aborting forwarding task", "error", sendErr)
			t.pool.Release(m.Buffer)
			return true, fmt.Errorf("router %s: send to %s: %w", t.router.Addr(), m.Target, sendErr)
		}
		t.pool.Release(m.Buffer)
		return true, nil
	}

	route, ok := t.router.RouteTo(dstAddr)
	if !ok {
		t.drop("no route", m)
		return true, nil
	}

	outers := t.router.Outers()
	link, ok := outers[route.NextHop]
	if !ok {
		t.drop("next hop not a neighbor", m)
		return true, nil
	}
	if link.BandwidthBitsPerMs == 0 {
		t.drop("zero-bandwidth link", m)
		return true, nil
	}

	delay := PacingDelay(m.Length, link.BandwidthBitsPerMs)
	if delay >= PeriodUpdate {
		t.drop("delay would exceed update period", m)
		return true, nil
	}

	t.clock.Sleep(delay)
	link.inbox.Send(m)
	return true, nil
}

// PacingDelay computes how long to hold a packet before handing it to the
// next hop's inbox, per spec §4.5 step 4: ((length+2)*8)/bandwidth, with
// length counted in bytes and bandwidth in bits per millisecond. Spec §9
// open question 1 fixes the "+2" variant.
func PacingDelay(length int, bandwidthBitsPerMs uint64) time.Duration {
	bits := float64((length + 2) * 8)
	ms := bits / float64(bandwidthBitsPerMs)
	return time.Duration(ms * float64(time.Millisecond))
}

func (t *Task) drop(reason string, m *Message) {
	t.metrics.RecordDrop(reason, m.PayloadLength())
	t.log.Warn("packet dropped", "reason", reason, "target", m.Target)
	t.pool.Release(m.Buffer)
}
