package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gtdsync/domain"
)

type recorder struct {
	mu    sync.Mutex
	snaps [][]domain.Task
	errs  []error
}

func (r *recorder) onSnapshot(ts []domain.Task) {
	r.mu.Lock()
	r.snaps = append(r.snaps, ts)
	r.mu.Unlock()
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) last() ([]domain.Task, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return nil, 0
	}
	return r.snaps[len(r.snaps)-1], len(r.snaps)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSubscriptionDeliversInitialAndChangedSnapshots(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := &recorder{}

	sub, err := s.SubscribeToUserTasks(ctx, "u1", rec.onSnapshot, rec.onError)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Stop()

	if snap, n := rec.last(); n != 1 || len(snap) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d snapshots", n)
	}

	id, err := s.CreateTask(ctx, domain.Task{Title: "a", Section: domain.SectionInbox, UserID: "u1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitFor(t, func() bool {
		snap, _ := rec.last()
		return len(snap) == 1 && snap[0].ID == id
	})

	if _, err := s.CreateTask(ctx, domain.Task{Title: "other", UserID: "u2"}); err != nil {
		t.Fatalf("create other user: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if snap, _ := rec.last(); len(snap) != 1 {
		t.Fatalf("expected other user's task to stay out of the snapshot, got %d", len(snap))
	}
}

func TestUpdateStampsUpdatedAt(t *testing.T) {
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return base }
	ctx := context.Background()

	id, _ := s.CreateTask(ctx, domain.Task{Title: "a", UserID: "u1"})
	s.Now = func() time.Time { return base.Add(time.Minute) }
	done := true
	if err := s.UpdateTask(ctx, "u1", id, domain.TaskPatch{Completed: &done}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got := s.taskSnapshot("u1")[0]
	if !got.Completed || !got.UpdatedAt.Equal(base.Add(time.Minute)) || !got.CreatedAt.Equal(base) {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestMissingDocumentsReportNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()
	title := "x"

	tests := []struct {
		name string
		call func() error
	}{
		{"update", func() error { return s.UpdateTask(ctx, "u1", "nope", domain.TaskPatch{Title: &title}) }},
		{"delete task", func() error { return s.DeleteTask(ctx, "u1", "nope") }},
		{"delete project", func() error { return s.DeleteProject(ctx, "u1", "nope") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !domain.IsNotFound(err) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestFailReachesErrorHandler(t *testing.T) {
	s := New()
	rec := &recorder{}
	sub, err := s.SubscribeToUserTasks(context.Background(), "u1", rec.onSnapshot, rec.onError)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Stop()

	boom := errors.New("stream reset")
	s.Fail("u1", boom)
	waitFor(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.errs) == 1 && errors.Is(rec.errs[0], boom)
	})
}

func TestStopEndsDelivery(t *testing.T) {
	s := New()
	rec := &recorder{}
	sub, _ := s.SubscribeToUserTasks(context.Background(), "u1", rec.onSnapshot, rec.onError)
	sub.Stop()

	if _, err := s.CreateTask(context.Background(), domain.Task{Title: "late", UserID: "u1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, n := rec.last(); n != 1 {
		t.Fatalf("expected only the initial snapshot, got %d", n)
	}
}
