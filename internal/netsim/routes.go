package netsim

import (
	"net/netip"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// PeriodUpdate is the tick at which every router recomputes its routing
// table (spec GLOSSARY, §4.6), and the upper bound on a single packet's
// pacing delay before it is dropped instead of held (spec §4.5 step 4).
const PeriodUpdate = 20 * time.Second

// routeSnapshotEntry is one (destination, cost) pair published by a router
// after it finishes recomputing its own routing table, so a neighbor
// folding it into a two-hop relaxation never has to lock the publishing
// router's routes directly (spec §4.6 lock discipline: "acquire neighbor
// data under a temporary lock, copy locally, release, then fold").
type routeSnapshotEntry struct {
	Dst  netip.Addr
	Cost float64
}

// RouteSnapshots holds each router's most recently published routing-table
// snapshot, keyed by router address, with a TTL long enough to survive one
// missed tick (2*PeriodUpdate) before a reader treats a neighbor as having
// no known routes. Reading a snapshot takes only the cache's own internal
// lock — never the publishing router's routesMu — which is how this repo
// satisfies the "never hold two routers' routes simultaneously" rule by
// construction rather than by discipline alone.
type RouteSnapshots struct {
	cache *ttlcache.Cache[netip.Addr, []routeSnapshotEntry]
}

// NewRouteSnapshots returns a ready RouteSnapshots. Its background
// eviction loop runs only after Start is called.
func NewRouteSnapshots() *RouteSnapshots {
	return &RouteSnapshots{
		cache: ttlcache.New[netip.Addr, []routeSnapshotEntry](
			ttlcache.WithTTL[netip.Addr, []routeSnapshotEntry](2 * PeriodUpdate),
		),
	}
}

// Start runs the cache's background TTL eviction loop on a new goroutine
// until Stop is called.
func (s *RouteSnapshots) Start() {
	go s.cache.Start()
}

// Stop halts the background eviction loop.
func (s *RouteSnapshots) Stop() {
	s.cache.Stop()
}

func (s *RouteSnapshots) publish(addr netip.Addr, entries []routeSnapshotEntry) {
	s.cache.Set(addr, entries, ttlcache.DefaultTTL)
}

func (s *RouteSnapshots) get(addr netip.Addr) ([]routeSnapshotEntry, bool) {
	item := s.cache.Get(addr)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// recomputeRoutes runs the spec's two-hop Bellman-Ford relaxation (§4.6)
// and replaces r.routes in one step. Only the router's own forwarding task
// calls this (spec invariant: only the router's own task mutates routes).
func (r *Router) recomputeRoutes(snapshots *RouteSnapshots) {
	next := make(map[netip.Addr]RouteEntry)

	outers := r.Outers()

	// Step 2: direct neighbors.
	for neighbor, link := range outers {
		if link.BandwidthBitsPerMs == 0 {
			continue
		}
		cost := 1.0 / float64(link.BandwidthBitsPerMs)
		if cur, ok := next[neighbor]; !ok || cost < cur.Cost {
			next[neighbor] = RouteEntry{Cost: cost, NextHop: neighbor}
		}
	}

	// Step 3: one more hop through each neighbor's last published routes.
	for neighbor, link := range outers {
		if link.BandwidthBitsPerMs == 0 {
			continue
		}
		neighborCost := 1.0 / float64(link.BandwidthBitsPerMs)

		entries, ok := snapshots.get(neighbor)
		if !ok {
			continue
		}
		for _, e := range entries {
			if e.Dst == r.addr {
				continue
			}
			candidate := neighborCost + e.Cost
			if cur, ok := next[e.Dst]; !ok || candidate < cur.Cost {
				next[e.Dst] = RouteEntry{Cost: candidate, NextHop: neighbor}
			}
		}
	}

	r.routesMu.Lock()
	r.routes = next
	r.routesMu.Unlock()

	entries := make([]routeSnapshotEntry, 0, len(next))
	for dst, e := range next {
		entries = append(entries, routeSnapshotEntry{Dst: dst, Cost: e.Cost})
	}
	snapshots.publish(r.addr, entries)
}
