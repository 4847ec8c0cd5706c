package sync

import (
	stdsync "sync"
)

// broadcaster fans status snapshots out to subscribers. Each subscriber
// channel holds one snapshot; a slow reader only ever sees the latest one.
type broadcaster struct {
	mu     stdsync.Mutex
	subs   map[int]chan SyncStatus
	nextID int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan SyncStatus)}
}

// Subscribe registers a subscriber primed with current. The returned
// function unsubscribes and closes the channel; calling it twice is safe.
func (b *broadcaster) Subscribe(current SyncStatus) (<-chan SyncStatus, func()) {
	ch := make(chan SyncStatus, 1)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	ch <- current

	var once stdsync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers s to every subscriber without blocking
func (b *broadcaster) Publish(s SyncStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// replace the unread snapshot
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// Len returns the number of subscribers
func (b *broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel
func (b *broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
