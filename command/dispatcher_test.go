package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gtdsync/domain"
)

func TestDispatcherKeepsPerKeyOrder(t *testing.T) {
	d := newDispatcher(4, 8)

	var mu sync.Mutex
	got := make(map[string][]int)
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("task-%d", i%5)
		n := i
		if err := d.submit(context.Background(), key, func(context.Context) {
			mu.Lock()
			got[key] = append(got[key], n)
			mu.Unlock()
		}); err != nil {
			t.Fatal(err)
		}
	}
	d.close()

	for key, seq := range got {
		if len(seq) != 10 {
			t.Fatalf("%s ran %d jobs, want 10", key, len(seq))
		}
		for i := 1; i < len(seq); i++ {
			if seq[i] < seq[i-1] {
				t.Fatalf("%s ran out of order: %v", key, seq)
			}
		}
	}
}

func TestDispatcherCloseDrainsAndRefuses(t *testing.T) {
	d := newDispatcher(1, 4)
	release := make(chan struct{})
	ran := make(chan string, 4)

	d.submit(context.Background(), "k", func(context.Context) {
		<-release
		ran <- "first"
	})
	d.submit(context.Background(), "k", func(context.Context) { ran <- "second" })

	closed := make(chan struct{})
	go func() {
		d.close()
		close(closed)
	}()

	select {
	case <-d.stopping():
	case <-time.After(time.Second):
		t.Fatal("stopping not signalled")
	}
	select {
	case <-closed:
		t.Fatal("close returned before queued jobs finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-closed
	if a, b := <-ran, <-ran; a != "first" || b != "second" {
		t.Fatalf("unexpected drain order %s, %s", a, b)
	}

	err := d.submit(context.Background(), "k", func(context.Context) {})
	if !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	d.close()
}

func TestDispatcherDefaults(t *testing.T) {
	d := newDispatcher(0, 0)
	defer d.close()
	if len(d.shards) != 1 || cap(d.shards[0]) != 1 {
		t.Fatalf("unexpected shards %d/%d", len(d.shards), cap(d.shards[0]))
	}
}
