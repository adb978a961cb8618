package api

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gtdsync/domain"
	"gtdsync/session"
	"gtdsync/storage/memory"
)

type countingStore struct {
	*memory.Store
	lists atomic.Int32
	fail  atomic.Bool
}

func (s *countingStore) ListCategories(ctx context.Context, userID string) ([]domain.Category, error) {
	s.lists.Add(1)
	if s.fail.Load() {
		return nil, errors.New("table unavailable")
	}
	return s.Store.ListCategories(ctx, userID)
}

func TestSessionManagerSharesOpen(t *testing.T) {
	store := &countingStore{Store: memory.New()}
	m := NewSessionManager(store, session.Options{}, 0)
	defer m.CloseAll()

	var wg sync.WaitGroup
	got := make([]*session.Session, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Get(context.Background(), domain.Identity{UID: "u1"})
			if err != nil {
				t.Errorf("get: %v", err)
			}
			got[i] = s
		}(i)
	}
	wg.Wait()
	for _, s := range got[1:] {
		if s != got[0] {
			t.Fatal("expected one shared session")
		}
	}
	if n := store.lists.Load(); n != 1 {
		t.Fatalf("expected a single open, got %d", n)
	}
}

func TestSessionManagerOpenFailureIsNotCached(t *testing.T) {
	store := &countingStore{Store: memory.New()}
	store.fail.Store(true)
	m := NewSessionManager(store, session.Options{}, 0)
	defer m.CloseAll()

	if _, err := m.Get(context.Background(), domain.Identity{UID: "u1"}); err == nil {
		t.Fatal("expected open error")
	}
	store.fail.Store(false)
	if _, err := m.Get(context.Background(), domain.Identity{UID: "u1"}); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
}

func TestSessionManagerSignOut(t *testing.T) {
	m := NewSessionManager(memory.New(), session.Options{}, 0)
	s, err := m.Get(context.Background(), domain.Identity{UID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if !m.SignOut("u1") {
		t.Fatal("expected an open session")
	}
	if m.SignOut("u1") {
		t.Fatal("second sign-out should find nothing")
	}
	op := s.Commands.CreateTask(context.Background(), domain.NewTask{Title: "late"})
	if err := op.Wait(context.Background()); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected closed session error, got %v", err)
	}
}

func TestSessionManagerEvictsIdle(t *testing.T) {
	m := NewSessionManager(memory.New(), session.Options{}, time.Minute)
	defer m.CloseAll()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	idle, _ := m.Get(context.Background(), domain.Identity{UID: "idle"})
	now = now.Add(50 * time.Second)
	active, _ := m.Get(context.Background(), domain.Identity{UID: "active"})
	now = now.Add(20 * time.Second)

	m.evictIdle()

	m.mu.Lock()
	_, idleOpen := m.sessions["idle"]
	_, activeOpen := m.sessions["active"]
	m.mu.Unlock()
	if idleOpen || !activeOpen {
		t.Fatalf("unexpected sessions: idle=%v active=%v", idleOpen, activeOpen)
	}
	if idle == active {
		t.Fatal("users must not share sessions")
	}
}

func TestSessionManagerRunClosesOnCancel(t *testing.T) {
	m := NewSessionManager(memory.New(), session.Options{}, 0)
	if _, err := m.Get(context.Background(), domain.Identity{UID: "u1"}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) != 0 {
		t.Fatalf("expected all sessions closed, got %d", len(m.sessions))
	}
}

func TestSessionManagerKeepsAttachedSession(t *testing.T) {
	m := NewSessionManager(memory.New(), session.Options{}, time.Minute)
	defer m.CloseAll()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	s, err := m.Get(context.Background(), domain.Identity{UID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	release, ok := m.Attach(s)
	if !ok {
		t.Fatal("expected attach to the live session")
	}

	now = now.Add(5 * time.Minute)
	m.evictIdle()
	select {
	case <-s.Done():
		t.Fatal("attached session must not be evicted")
	default:
	}

	release()
	release()
	now = now.Add(30 * time.Second)
	m.evictIdle()
	select {
	case <-s.Done():
		t.Fatal("release should count as a use")
	default:
	}

	now = now.Add(2 * time.Minute)
	m.evictIdle()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("released session should be evicted once idle")
	}
	if _, ok := m.Attach(s); ok {
		t.Fatal("attach to a closed session should fail")
	}
}
