package command

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"

	"gtdsync/domain"
)

type job struct {
	ctx context.Context
	run func(ctx context.Context)
}

// dispatcher runs remote writes on a fixed set of workers. Jobs sharing a key
// always land on the same worker, so writes to one task apply in issue order.
type dispatcher struct {
	shards []chan job
	stop   chan struct{}
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newDispatcher(workers, buffer int) *dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 1
	}
	d := &dispatcher{shards: make([]chan job, workers), stop: make(chan struct{})}
	for i := range d.shards {
		d.shards[i] = make(chan job, buffer)
		d.wg.Add(1)
		go d.worker(d.shards[i])
	}
	return d
}

func (d *dispatcher) worker(ch <-chan job) {
	defer d.wg.Done()
	for j := range ch {
		j.run(j.ctx)
	}
}

func (d *dispatcher) shard(key string) chan job {
	return d.shards[xxhash.Sum64String(key)%uint64(len(d.shards))]
}

// submit queues fn behind earlier jobs with the same key.
func (d *dispatcher) submit(ctx context.Context, key string, fn func(ctx context.Context)) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return domain.ErrSessionClosed
	}
	d.shard(key) <- job{ctx: ctx, run: fn}
	return nil
}

// stopping is closed when close begins; queued jobs check it to skip work.
func (d *dispatcher) stopping() <-chan struct{} { return d.stop }

// close refuses new jobs and waits for queued ones to drain.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.stop)
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
