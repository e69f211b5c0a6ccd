package telemetry

import (
	"sync"
)

// subBuffer is how many snapshots a subscriber may fall behind before new
// ones are dropped for it. At the 300ms poll rate that is over two seconds
// of slack.
const subBuffer = 8

type subscriber struct {
	ch      chan Snapshot
	dropped int
}

// Bus fans snapshots out to subscribers and remembers the latest one.
// Publishing never blocks: a subscriber that stops draining its channel
// loses snapshots, not the publisher.
type Bus struct {
	mu      sync.Mutex
	last    Snapshot
	hasLast bool
	subs    map[int]*subscriber
	nextID  int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish stores s as the latest snapshot and offers it to every subscriber.
func (b *Bus) Publish(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = s
	b.hasLast = true
	for _, sub := range b.subs {
		select {
		case sub.ch <- s:
		default:
			sub.dropped++
		}
	}
}

// Last returns the most recently published snapshot, if any.
func (b *Bus) Last() (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.hasLast
}

// Subscribe registers a new consumer. The returned cancel function must be
// called when done; after cancel the channel is closed.
func (b *Bus) Subscribe() (<-chan Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Snapshot, subBuffer)}
	b.subs[id] = sub
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(cur.ch)
		}
	}
	return sub.ch, cancel
}

// Dropped totals the snapshots discarded because subscribers were slow.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, sub := range b.subs {
		total += sub.dropped
	}
	return total
}
