package netsim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/cutiedeng/netsim/internal/bufpool"
	"github.com/cutiedeng/netsim/internal/metrics"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []netip.AddrPort
	err   error
}

func (s *fakeSender) SendTo(buf []byte, addr netip.AddrPort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, addr)
	return nil
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMessage(target netip.AddrPort, length int) *Message {
	buf := make([]byte, 2500)
	return &Message{Target: target, Buffer: buf, Length: length}
}

func TestTask_SelfDelivery_Sends(t *testing.T) {
	addr := mustAddr(t, "10.0.0.1")
	r := newRouter(addr)
	clock := clockwork.NewFakeClock()
	snapshots := NewRouteSnapshots()
	defer snapshots.Stop()
	m := metrics.New()
	pool := bufpool.New()
	sender := &fakeSender{}

	task := NewTask(r, clock, snapshots, m, pool, sender, testLogger())

	target := netip.AddrPortFrom(addr, 9000)
	require.True(t, r.enqueue(newTestMessage(target, 100)))

	popped, err := task.step()
	require.NoError(t, err)
	assert.True(t, popped)
	assert.Equal(t, 1, sender.sentCount())
}

func TestTask_SelfDelivery_SendErrorIsFatal(t *testing.T) {
	addr := mustAddr(t, "10.0.0.1")
	r := newRouter(addr)
	clock := clockwork.NewFakeClock()
	snapshots := NewRouteSnapshots()
	defer snapshots.Stop()
	m := metrics.New()
	pool := bufpool.New()
	sender := &fakeSender{err: errors.New("boom")}

	task := NewTask(r, clock, snapshots, m, pool, sender, testLogger())

	target := netip.AddrPortFrom(addr, 9000)
	require.True(t, r.enqueue(newTestMessage(target, 100)))

	_, err := task.step()
	assert.Error(t, err)
}

func TestTask_NoRoute_Drops(t *testing.T) {
	addr := mustAddr(t, "10.0.0.1")
	r := newRouter(addr)
	clock := clockwork.NewFakeClock()
	snapshots := NewRouteSnapshots()
	defer snapshots.Stop()
	m := metrics.New()
	pool := bufpool.New()
	sender := &fakeSender{}

	task := NewTask(r, clock, snapshots, m, pool, sender, testLogger())

	target := netip.AddrPortFrom(mustAddr(t, "10.0.0.9"), 9000)
	require.True(t, r.enqueue(newTestMessage(target, 100)))

	popped, err := task.step()
	require.NoError(t, err)
	assert.True(t, popped)
	assert.Equal(t, 0, sender.sentCount())
}

func TestTask_NextHopNotNeighbor_Drops(t *testing.T) {
	addr := mustAddr(t, "10.0.0.1")
	r := newRouter(addr)
	clock := clockwork.NewFakeClock()
	snapshots := NewRouteSnapshots()
	defer snapshots.Stop()
	m := metrics.New()
	pool := bufpool.New()
	sender := &fakeSender{}

	task := NewTask(r, clock, snapshots, m, pool, sender, testLogger())

	dst := mustAddr(t, "10.0.0.9")
	stale := mustAddr(t, "10.0.0.2")
	r.routesMu.Lock()
	r.routes[dst] = RouteEntry{Cost: 1, NextHop: stale}
	r.routesMu.Unlock()

	target := netip.AddrPortFrom(dst, 9000)
	require.True(t, r.enqueue(newTestMessage(target, 100)))

	popped, err := task.step()
	require.NoError(t, err)
	assert.True(t, popped)
	assert.Equal(t, 0, sender.sentCount())
}

func TestTask_ZeroBandwidthLink_Drops(t *testing.T) {
	addr := mustAddr(t, "10.0.0.1")
	r := newRouter(addr)
	clock := clockwork.NewFakeClock()
	snapshots := NewRouteSnapshots()
	defer snapshots.Stop()
	m := metrics.New()
	pool := bufpool.New()
	sender := &fakeSender{}

	task := NewTask(r, clock, snapshots, m, pool, sender, testLogger())

	dst := mustAddr(t, "10.0.0.9")
	r.setLink(dst, 0, newInbox())
	r.routesMu.Lock()
	r.routes[dst] = RouteEntry{Cost: 1, NextHop: dst}
	r.routesMu.Unlock()

	target := netip.AddrPortFrom(dst, 9000)
	require.True(t, r.enqueue(newTestMessage(target, 100)))

	popped, err := task.step()
	require.NoError(t, err)
	assert.True(t, popped)
	assert.Equal(t, 0, sender.sentCount())
}

func TestTask_Forward_PacesAndDeliversToNextHopInbox(t *testing.T) {
	addr := mustAddr(t, "10.0.0.1")
	r := newRouter(addr)
	neighborAddr := mustAddr(t, "10.0.0.2")
	neighborInbox := newInbox()
	r.setLink(neighborAddr, 1000, neighborInbox)

	dst := mustAddr(t, "10.0.0.9")
	r.routesMu.Lock()
	r.routes[dst] = RouteEntry{Cost: 1, NextHop: neighborAddr}
	r.routesMu.Unlock()

	clock := clockwork.NewFakeClock()
	snapshots := NewRouteSnapshots()
	defer snapshots.Stop()
	m := metrics.New()
	pool := bufpool.New()
	sender := &fakeSender{}

	task := NewTask(r, clock, snapshots, m, pool, sender, testLogger())

	target := netip.AddrPortFrom(dst, 9000)
	msg := newTestMessage(target, 100)
	require.True(t, r.enqueue(msg))

	wantDelay := PacingDelay(msg.Length, 1000)
	require.Greater(t, wantDelay, time.Duration(0))

	type stepResult struct {
		popped bool
		err    error
	}
	resultCh := make(chan stepResult, 1)
	go func() {
		popped, err := task.step()
		resultCh <- stepResult{popped, err}
	}()

	// step() blocks in clock.Sleep(wantDelay) on the fake clock until the
	// clock is advanced past it; a real clock would just pass the time.
	clock.BlockUntil(1)
	clock.Advance(wantDelay)

	var result stepResult
	select {
	case result = <-resultCh:
	case <-time.After(time.Second):
		t.Fatal("task.step() did not return after advancing the fake clock")
	}
	require.NoError(t, result.err)
	assert.True(t, result.popped)

	got, ok := neighborInbox.TryRecv()
	require.True(t, ok)
	assert.Same(t, msg, got)
}

func TestTask_DelayExceedingUpdatePeriod_Drops(t *testing.T) {
	addr := mustAddr(t, "10.0.0.1")
	r := newRouter(addr)
	neighborAddr := mustAddr(t, "10.0.0.2")
	// At 1 bit/ms a 2499-byte frame needs (2499+2)*8 = 20008 ms to pace,
	// which is past PeriodUpdate.
	r.setLink(neighborAddr, 1, newInbox())

	dst := mustAddr(t, "10.0.0.9")
	r.routesMu.Lock()
	r.routes[dst] = RouteEntry{Cost: 1, NextHop: neighborAddr}
	r.routesMu.Unlock()

	clock := clockwork.NewFakeClock()
	snapshots := NewRouteSnapshots()
	defer snapshots.Stop()
	m := metrics.New()
	pool := bufpool.New()
	sender := &fakeSender{}

	task := NewTask(r, clock, snapshots, m, pool, sender, testLogger())

	target := netip.AddrPortFrom(dst, 9000)
	require.True(t, r.enqueue(newTestMessage(target, 2499)))

	popped, err := task.step()
	require.NoError(t, err)
	assert.True(t, popped)
	assert.Equal(t, 0, sender.sentCount())
}

func TestTask_DrainInbox_OverflowDrops(t *testing.T) {
	addr := mustAddr(t, "10.0.0.1")
	r := newRouter(addr)
	r.SetQueueSize(1)

	clock := clockwork.NewFakeClock()
	snapshots := NewRouteSnapshots()
	defer snapshots.Stop()
	m := metrics.New()
	pool := bufpool.New()
	sender := &fakeSender{}

	task := NewTask(r, clock, snapshots, m, pool, sender, testLogger())

	target := netip.AddrPortFrom(addr, 9000)
	r.inbox.Send(newTestMessage(target, 100))
	r.inbox.Send(newTestMessage(target, 100))

	drained := task.drainInbox()
	assert.True(t, drained)
	assert.Equal(t, 1, r.QueueLen())
}

func TestTask_Run_StopsOnContextCancel(t *testing.T) {
	addr := mustAddr(t, "10.0.0.1")
	r := newRouter(addr)
	clock := clockwork.NewFakeClock()
	snapshots := NewRouteSnapshots()
	defer snapshots.Stop()
	m := metrics.New()
	pool := bufpool.New()
	sender := &fakeSender{}

	task := NewTask(r, clock, snapshots, m, pool, sender, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("task did not stop after context cancellation")
	}
}

func TestPacingDelay(t *testing.T) {
	// (100+2)*8 = 816 bits at 1000 bits/ms = 0.816ms.
	d := PacingDelay(100, 1000)
	assert.InDelta(t, 0.816, d.Seconds()*1000, 1e-9)
}
