package netsim

import (
	"net/netip"
	"sync"
)

// Registry is the process-wide mapping from IPv4 address to router handle
// (spec §3 Registry, §4.3). Entries are added on first reference and never
// removed during the emulator's lifetime. The registry lock is held only
// for the duration of the lookup-or-insert; Spawn is invoked inside that
// critical section so a newly created router's forwarding task is already
// guaranteed to run by the time any other goroutine observes the entry
// (spec §4.3: "spawned before releasing [the lock]").
type Registry struct {
	mu      sync.RWMutex
	routers map[netip.Addr]*Router

	// spawn starts a router's forwarding task. Set once at construction by
	// the Emulator, which is the only thing that knows about the worker
	// pool, clock, and OS send path a task needs (spec §9 design note: no
	// process-wide task scheduler reached from deep call sites).
	spawn func(r *Router)
}

// NewRegistry returns a Registry that calls spawn exactly once per router,
// right after that router is created.
func NewRegistry(spawn func(r *Router)) *Registry {
	return &Registry{
		routers: make(map[netip.Addr]*Router),
		spawn:   spawn,
	}
}

// GetOrCreate returns the router for addr, creating and spawning it if
// this is the first reference (spec §4.3).
func (g *Registry) GetOrCreate(addr netip.Addr) *Router {
	g.mu.RLock()
	if r, ok := g.routers[addr]; ok {
		g.mu.RUnlock()
		return r
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.routers[addr]; ok {
		return r
	}
	r := newRouter(addr)
	g.routers[addr] = r
	if g.spawn != nil {
		g.spawn(r)
	}
	return r
}

// Lookup returns the router for addr without creating one.
func (g *Registry) Lookup(addr netip.Addr) (*Router, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.routers[addr]
	return r, ok
}

// Snapshot returns the handles of every known router, in no particular
// order.
func (g *Registry) Snapshot() []*Router {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Router, 0, len(g.routers))
	for _, r := range g.routers {
		out = append(out, r)
	}
	return out
}

// Len returns the current router count.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.routers)
}

// SetLink ensures neighbor exists in the registry (creating it if new) and
// installs the outgoing link from focus to neighbor (spec §4.4 SetLink).
func (g *Registry) SetLink(focus *Router, neighbor netip.Addr, bandwidthBitsPerMs uint64) {
	neighborRouter := g.GetOrCreate(neighbor)
	focus.setLink(neighbor, bandwidthBitsPerMs, neighborRouter.inbox)
}
