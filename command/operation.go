package command

import (
	"context"
	"sync"
)

// State is the lifecycle position of a command invocation.
type State int

const (
	StateIssued State = iota
	StateOptimisticApplied
	StateRemoteConfirmed
	StateRemoteFailed
	StateRejected
	StateUnchanged
)

func (s State) String() string {
	switch s {
	case StateIssued:
		return "issued"
	case StateOptimisticApplied:
		return "optimistic_applied"
	case StateRemoteConfirmed:
		return "remote_confirmed"
	case StateRemoteFailed:
		return "remote_failed"
	case StateRejected:
		return "rejected"
	case StateUnchanged:
		return "unchanged"
	}
	return "unknown"
}

// Operation is the handle of one issued command. The optimistic step has
// already happened when the handle is returned; Done closes once the remote
// write resolves.
type Operation struct {
	name string
	done chan struct{}

	mu    sync.Mutex
	id    string
	state State
	err   error
}

func newOperation(name, id string) *Operation {
	return &Operation{name: name, id: id, done: make(chan struct{})}
}

// Name is the command that produced the operation.
func (o *Operation) Name() string { return o.name }

// ID is the target entity id. For creates it starts as the temporary id and
// switches to the remote id once the write is confirmed.
func (o *Operation) ID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.id
}

// State is the current lifecycle state. It only moves forward.
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err is the terminal error, nil while pending or on success.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Done is closed once the operation reaches a terminal state.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Wait blocks until the operation resolves or ctx ends.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Operation) setID(id string) {
	o.mu.Lock()
	o.id = id
	o.mu.Unlock()
}

func (o *Operation) applied(id string) {
	o.mu.Lock()
	o.id = id
	o.state = StateOptimisticApplied
	o.mu.Unlock()
}

func (o *Operation) finish(state State, err error) *Operation {
	o.mu.Lock()
	o.state = state
	o.err = err
	o.mu.Unlock()
	close(o.done)
	return o
}

func (o *Operation) reject(err error) *Operation { return o.finish(StateRejected, err) }
