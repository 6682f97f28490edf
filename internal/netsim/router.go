package netsim

import (
	"net/netip"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the router queue capacity used until a controller
// QUEUE command overrides it (spec §3: "default 5, settable by controller").
const DefaultQueueSize = 5

// Link describes one directed, bandwidth-annotated edge out of a router
// (spec GLOSSARY). Bandwidth is in bits per millisecond, used both for
// pacing a forwarded packet and as 1/bandwidth in route cost (spec §4.6).
type Link struct {
	BandwidthBitsPerMs uint64
	inbox              *inbox
}

// RouteEntry is one row of a router's derived routing table: the cost to
// reach a destination and the neighbor to forward through to get there.
type RouteEntry struct {
	Cost    float64
	NextHop netip.Addr
}

// Router is one emulated network node, identified by a single IPv4
// address (spec §3). Only the router's own forwarding task ever mutates
// queue and routes; outers is mutated by the controller parser and read
// by the forwarding and route-update logic, so it gets its own mutex.
type Router struct {
	addr netip.Addr

	inbox *inbox

	outersMu sync.RWMutex
	outers   map[netip.Addr]Link

	queueMu sync.Mutex
	queue   []*Message

	queueSize atomic.Uint64

	routesMu sync.RWMutex
	routes   map[netip.Addr]RouteEntry
}

func newRouter(addr netip.Addr) *Router {
	r := &Router{
		addr:   addr,
		inbox:  newInbox(),
		outers: make(map[netip.Addr]Link),
		routes: make(map[netip.Addr]RouteEntry),
	}
	r.queueSize.Store(DefaultQueueSize)
	return r
}

// Addr returns the router's IPv4 identity.
func (r *Router) Addr() netip.Addr { return r.addr }

// QueueSize returns the current bounded-queue capacity.
func (r *Router) QueueSize() uint64 { return r.queueSize.Load() }

// SetQueueSize stores a new bounded-queue capacity (controller QUEUE
// command, spec §4.4). It is a pure forward-looking capacity bound: an
// already-queued excess is never retroactively trimmed (spec §9 item 4).
func (r *Router) SetQueueSize(n uint64) {
	r.queueSize.Store(n)
}

// QueueLen returns the number of messages currently queued for forwarding.
func (r *Router) QueueLen() int {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	return len(r.queue)
}

// Push delivers m to the router's inbox. Used by ingress to hand a freshly
// classified client frame to its source router without that router's
// forwarding task ever being reached directly (spec §4.7).
func (r *Router) Push(m *Message) {
	r.inbox.Send(m)
}

// Outers returns a snapshot copy of the router's neighbor link table.
func (r *Router) Outers() map[netip.Addr]Link {
	r.outersMu.RLock()
	defer r.outersMu.RUnlock()
	out := make(map[netip.Addr]Link, len(r.outers))
	for k, v := range r.outers {
		out[k] = v
	}
	return out
}

// setLink installs or replaces the outgoing link to neighbor, with the
// given bandwidth and its inbox sender (spec §4.4 SetLink). Bandwidth of
// zero is accepted here; it is rejected only at forward time (spec §9
// item 3).
func (r *Router) setLink(neighbor netip.Addr, bandwidthBitsPerMs uint64, neighborInbox *inbox) {
	r.outersMu.Lock()
	defer r.outersMu.Unlock()
	r.outers[neighbor] = Link{BandwidthBitsPerMs: bandwidthBitsPerMs, inbox: neighborInbox}
}

// Routes returns a snapshot copy of the router's current routing table.
func (r *Router) Routes() map[netip.Addr]RouteEntry {
	r.routesMu.RLock()
	defer r.routesMu.RUnlock()
	out := make(map[netip.Addr]RouteEntry, len(r.routes))
	for k, v := range r.routes {
		out[k] = v
	}
	return out
}

// RouteTo returns the route entry for dst, if any.
func (r *Router) RouteTo(dst netip.Addr) (RouteEntry, bool) {
	r.routesMu.RLock()
	defer r.routesMu.RUnlock()
	e, ok := r.routes[dst]
	return e, ok
}

// enqueue pushes m onto the bounded forwarding queue if there is room,
// returning false if the queue is at capacity (spec §4.5 step 1).
func (r *Router) enqueue(m *Message) bool {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	if uint64(len(r.queue)) >= r.queueSize.Load() {
		return false
	}
	r.queue = append(r.queue, m)
	return true
}

// dequeue pops the oldest queued message, if any.
func (r *Router) dequeue() (*Message, bool) {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	if len(r.queue) == 0 {
		return nil, false
	}
	m := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	return m, true
}
