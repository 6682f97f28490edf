package netsim

import "sync"

// inbox is the unbounded, multi-producer single-consumer FIFO that carries
// Messages destined for one router (spec §3 Router.inbox). Sends never
// block — mirroring the Rust original's mpsc::unbounded_channel — so that
// a router paced by a slow link can never wedge one of its neighbors mid
// forward. Only the owning router's forwarding task calls TryRecv.
type inbox struct {
	mu  sync.Mutex
	buf []*Message
}

func newInbox() *inbox {
	return &inbox{}
}

// Send enqueues m. Never blocks, never drops — capacity is enforced
// downstream at the router's bounded queue (spec §4.5 step 1), not here.
func (b *inbox) Send(m *Message) {
	b.mu.Lock()
	b.buf = append(b.buf, m)
	b.mu.Unlock()
}

// TryRecv pops the oldest Message, or returns ok=false if empty.
func (b *inbox) TryRecv() (m *Message, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return nil, false
	}
	m = b.buf[0]
	b.buf[0] = nil
	b.buf = b.buf[1:]
	return m, true
}
