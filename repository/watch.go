package repository

import (
	"sync"
	"time"
)

// broker fans out change notifications to watchers. Each watcher holds a
// single-slot channel so a slow reader coalesces bursts into one wakeup.
type broker struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[chan struct{}]struct{})}
}

func (b *broker) subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

func (b *broker) notify() {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// Status describes how fresh the local collection is.
type Status struct {
	LastSync time.Time `json:"lastSync,omitempty"`
	Degraded bool      `json:"degraded"`
	Error    string    `json:"error,omitempty"`
}
