package bufpool_test

import (
	"testing"

	"github.com/cutiedeng/netsim/internal/bufpool"
	"github.com/cutiedeng/netsim/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestPool_AcquireRelease(t *testing.T) {
	t.Parallel()

	t.Run("Acquire returns a buffer of exactly MessageLength", func(t *testing.T) {
		t.Parallel()
		p := bufpool.New()
		buf := p.Acquire()
		require.Len(t, buf, wire.MessageLength)
		require.Equal(t, wire.MessageLength, cap(buf))
	})

	t.Run("Release then Acquire reuses the buffer without growing allocations", func(t *testing.T) {
		t.Parallel()
		p := bufpool.New()
		buf := p.Acquire()
		require.EqualValues(t, 1, p.Allocated())
		p.Release(buf)

		buf2 := p.Acquire()
		require.Len(t, buf2, wire.MessageLength)
		// A LIFO pop after a single release should not need a new allocation,
		// though sync.Pool offers no hard guarantee under GC pressure -- we
		// only assert the count never exceeds what Acquire calls could need.
		require.LessOrEqual(t, p.Allocated(), int64(2))
	})

	t.Run("Release ignores a buffer of the wrong capacity", func(t *testing.T) {
		t.Parallel()
		p := bufpool.New()
		p.Release(make([]byte, 10))
		buf := p.Acquire()
		require.Len(t, buf, wire.MessageLength)
	})
}

func TestPool_ConcurrentAcquireRelease(t *testing.T) {
	t.Parallel()

	p := bufpool.New()
	done := make(chan struct{})
	const goroutines = 8
	const iterations = 200

	for i := 0; i < goroutines; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < iterations; j++ {
				buf := p.Acquire()
				buf[0] = byte(j)
				p.Release(buf)
			}
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}
}
