package netsim

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreate_SpawnsOnce(t *testing.T) {
	var spawned []netip.Addr
	var mu sync.Mutex
	reg := NewRegistry(func(r *Router) {
		mu.Lock()
		spawned = append(spawned, r.Addr())
		mu.Unlock()
	})

	addr := mustAddr(t, "10.0.0.1")
	r1 := reg.GetOrCreate(addr)
	r2 := reg.GetOrCreate(addr)

	assert.Same(t, r1, r2)
	assert.Len(t, spawned, 1)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_GetOrCreate_ConcurrentSpawnsExactlyOnce(t *testing.T) {
	var spawnCount int
	var mu sync.Mutex
	reg := NewRegistry(func(r *Router) {
		mu.Lock()
		spawnCount++
		mu.Unlock()
	})

	addr := mustAddr(t, "10.0.0.1")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.GetOrCreate(addr)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, spawnCount)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_Lookup(t *testing.T) {
	reg := NewRegistry(nil)
	addr := mustAddr(t, "10.0.0.1")

	_, ok := reg.Lookup(addr)
	assert.False(t, ok)

	created := reg.GetOrCreate(addr)
	found, ok := reg.Lookup(addr)
	require.True(t, ok)
	assert.Same(t, created, found)
}

func TestRegistry_Snapshot(t *testing.T) {
	reg := NewRegistry(nil)
	reg.GetOrCreate(mustAddr(t, "10.0.0.1"))
	reg.GetOrCreate(mustAddr(t, "10.0.0.2"))

	snap := reg.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_SetLink_CreatesNeighborAndWiresInbox(t *testing.T) {
	reg := NewRegistry(nil)
	focus := reg.GetOrCreate(mustAddr(t, "10.0.0.1"))
	neighbor := mustAddr(t, "10.0.0.2")

	reg.SetLink(focus, neighbor, 500)

	outers := focus.Outers()
	require.Contains(t, outers, neighbor)
	assert.EqualValues(t, 500, outers[neighbor].BandwidthBitsPerMs)

	neighborRouter, ok := reg.Lookup(neighbor)
	require.True(t, ok)
	assert.Same(t, neighborRouter.inbox, outers[neighbor].inbox)
}
