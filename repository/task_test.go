package repository

import (
	"errors"
	"testing"
	"time"

	"gtdsync/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRepo() (*TaskRepository, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	r := NewTaskRepository("u1", time.Minute)
	r.now = clock.Now
	return r, clock
}

func task(id string, section domain.Section, updated time.Time) domain.Task {
	return domain.Task{
		ID:        id,
		Title:     "task " + id,
		Section:   section,
		Priority:  domain.PriorityMedium,
		UserID:    "u1",
		CreatedAt: updated,
		UpdatedAt: updated,
	}
}

func sectionPtr(s domain.Section) *domain.Section { return &s }

func boolPtr(b bool) *bool { return &b }

func TestLoadSnapshotIsAuthoritative(t *testing.T) {
	r, clock := newTestRepo()
	due := clock.t.Add(48 * time.Hour)
	t1 := task("t1", domain.SectionToday, clock.t)
	t1.DueDate = &due
	t1.EstimatedTime = 45
	t2 := task("t2", domain.SectionNext, clock.t.Add(time.Minute))
	r.LoadSnapshot([]domain.Task{t1, t2})

	got, ok := r.GetByID("t1")
	if !ok {
		t.Fatal("expected t1")
	}
	if got.Section != t1.Section || got.EstimatedTime != 45 || !got.DueDate.Equal(due) || got.Title != t1.Title {
		t.Fatalf("unexpected task %+v", got)
	}
	all := r.All()
	if len(all) != 2 || all[0].ID != "t2" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	r.LoadSnapshot([]domain.Task{t2})
	if _, ok := r.GetByID("t1"); ok {
		t.Fatal("expected t1 removed by snapshot")
	}
	if st := r.Status(); st.LastSync.IsZero() || st.Degraded {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestLoadSnapshotDropsForeignTasks(t *testing.T) {
	r, clock := newTestRepo()
	foreign := task("x", domain.SectionInbox, clock.t)
	foreign.UserID = "u2"
	r.LoadSnapshot([]domain.Task{foreign})
	if len(r.All()) != 0 {
		t.Fatal("expected foreign task to be dropped")
	}
}

func TestApplyOptimisticMovesBetweenSections(t *testing.T) {
	r, clock := newTestRepo()
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, clock.t)})
	clock.Advance(time.Second)

	if _, err := r.ApplyOptimistic("t1", domain.TaskPatch{Section: sectionPtr(domain.SectionToday)}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got, _ := r.GetByID("t1"); got.Section != domain.SectionToday {
		t.Fatalf("expected today, got %s", got.Section)
	}
	if len(r.GetBySection(domain.SectionToday)) != 1 || len(r.GetBySection(domain.SectionInbox)) != 0 {
		t.Fatal("task not moved between section views")
	}
	if !r.IsPending("t1") {
		t.Fatal("expected pending state")
	}
}

func TestApplyOptimisticUnknownTask(t *testing.T) {
	r, _ := newTestRepo()
	_, err := r.ApplyOptimistic("missing", domain.TaskPatch{Completed: boolPtr(true)})
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRevertRestoresOnlyTouchedFields(t *testing.T) {
	r, clock := newTestRepo()
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, clock.t)})
	clock.Advance(time.Second)

	move, _ := r.ApplyOptimistic("t1", domain.TaskPatch{Section: sectionPtr(domain.SectionNext)})
	toggle, _ := r.ApplyOptimistic("t1", domain.TaskPatch{Completed: boolPtr(true)})
	r.Revert(toggle)

	got, _ := r.GetByID("t1")
	if got.Completed {
		t.Fatal("expected completed reverted")
	}
	if got.Section != domain.SectionNext {
		t.Fatalf("expected section change kept, got %s", got.Section)
	}
	r.Revert(move)
	if got, _ := r.GetByID("t1"); got.Section != domain.SectionInbox {
		t.Fatalf("expected section reverted, got %s", got.Section)
	}
	if r.IsPending("t1") {
		t.Fatal("expected no pending state")
	}
}

func TestRevertOfSupersededMutationKeepsNewerValue(t *testing.T) {
	r, clock := newTestRepo()
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, clock.t)})

	first, _ := r.ApplyOptimistic("t1", domain.TaskPatch{Section: sectionPtr(domain.SectionToday)})
	if _, err := r.ApplyOptimistic("t1", domain.TaskPatch{Section: sectionPtr(domain.SectionSomeday)}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	r.Revert(first)
	if got, _ := r.GetByID("t1"); got.Section != domain.SectionSomeday {
		t.Fatalf("expected last writer to win, got %s", got.Section)
	}
}

func TestConfirmMovesRollbackBaseline(t *testing.T) {
	r, clock := newTestRepo()
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionToday, clock.t)})

	first, _ := r.ApplyOptimistic("t1", domain.TaskPatch{Completed: boolPtr(true)})
	second, _ := r.ApplyOptimistic("t1", domain.TaskPatch{Completed: boolPtr(false)})
	r.Confirm(first)
	r.Revert(second)

	if got, _ := r.GetByID("t1"); !got.Completed {
		t.Fatal("expected acknowledged value after newer write failed")
	}
}

func TestRevertOptimisticRestoresWholeTask(t *testing.T) {
	r, clock := newTestRepo()
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, clock.t)})
	_, _ = r.ApplyOptimistic("t1", domain.TaskPatch{Completed: boolPtr(true), Section: sectionPtr(domain.SectionToday)})
	r.RevertOptimistic("t1")
	got, _ := r.GetByID("t1")
	if got.Completed || got.Section != domain.SectionInbox {
		t.Fatalf("expected confirmed state, got %+v", got)
	}
}

func TestStaleSnapshotKeepsOptimisticSection(t *testing.T) {
	r, clock := newTestRepo()
	base := clock.t
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, base)})

	clock.Advance(200 * time.Millisecond)
	if _, err := r.ApplyOptimistic("t1", domain.TaskPatch{Section: sectionPtr(domain.SectionToday)}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	stale := task("t1", domain.SectionInbox, base)
	stale.Title = "renamed elsewhere"
	r.LoadSnapshot([]domain.Task{stale})

	got, _ := r.GetByID("t1")
	if got.Section != domain.SectionToday {
		t.Fatalf("stale snapshot clobbered optimistic section: %s", got.Section)
	}
	if got.Title != "renamed elsewhere" {
		t.Fatalf("expected untouched fields from snapshot, got %q", got.Title)
	}

	fresh := task("t1", domain.SectionToday, clock.t.Add(time.Millisecond))
	r.LoadSnapshot([]domain.Task{fresh})
	if r.IsPending("t1") {
		t.Fatal("expected fresh snapshot to reconcile pending state")
	}
}

func TestNewerSnapshotWaitsForPendingWrite(t *testing.T) {
	r, clock := newTestRepo()
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, clock.t)})
	m, _ := r.ApplyOptimistic("t1", domain.TaskPatch{Section: sectionPtr(domain.SectionToday)})
	clock.Advance(time.Second)
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionSomeday, clock.t)})
	if got, _ := r.GetByID("t1"); got.Section != domain.SectionToday {
		t.Fatalf("snapshot replaced a section whose write is still in flight, got %s", got.Section)
	}
	r.Revert(m)
	if got, _ := r.GetByID("t1"); got.Section != domain.SectionSomeday {
		t.Fatalf("expected snapshot value after the write failed, got %s", got.Section)
	}
}

func TestConfirmKeepsSnapshotChangedElsewhere(t *testing.T) {
	r, clock := newTestRepo()
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, clock.t)})
	m, _ := r.ApplyOptimistic("t1", domain.TaskPatch{Section: sectionPtr(domain.SectionToday)})
	clock.Advance(time.Second)
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionSomeday, clock.t)})
	r.Confirm(m)
	if got, _ := r.GetByID("t1"); got.Section != domain.SectionSomeday || r.IsPending("t1") {
		t.Fatalf("expected snapshot value to stand after confirm, got %s pending=%v", got.Section, r.IsPending("t1"))
	}
}

func TestSnapshotOfEarlierWriteKeepsLaterPendingField(t *testing.T) {
	r, clock := newTestRepo()
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, clock.t)})

	toggle, _ := r.ApplyOptimistic("t1", domain.TaskPatch{Completed: boolPtr(true)})
	move, _ := r.ApplyOptimistic("t1", domain.TaskPatch{Section: sectionPtr(domain.SectionToday)})
	r.Confirm(toggle)

	// The store stamps the toggle after both local edits.
	clock.Advance(10 * time.Millisecond)
	stored := task("t1", domain.SectionInbox, clock.t)
	stored.Completed = true
	r.LoadSnapshot([]domain.Task{stored})

	got, _ := r.GetByID("t1")
	if got.Section != domain.SectionToday || !got.Completed {
		t.Fatalf("expected move kept while in flight, got section=%s completed=%v", got.Section, got.Completed)
	}

	r.Confirm(move)
	if got, _ := r.GetByID("t1"); got.Section != domain.SectionToday || r.IsPending("t1") {
		t.Fatalf("expected acknowledged move, got %s pending=%v", got.Section, r.IsPending("t1"))
	}
}

func TestStaleSnapshotKeepsAcknowledgedValue(t *testing.T) {
	r, clock := newTestRepo()
	base := clock.t
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, base)})
	clock.Advance(time.Second)
	m, _ := r.ApplyOptimistic("t1", domain.TaskPatch{Completed: boolPtr(true)})
	r.Confirm(m)

	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, base)})
	if got, _ := r.GetByID("t1"); !got.Completed {
		t.Fatal("stale snapshot reverted an acknowledged write")
	}
}

func TestInsertAndConfirmCreate(t *testing.T) {
	r, clock := newTestRepo()
	tmp := task("local-1", domain.SectionInbox, clock.t)
	tmp.Title = "Buy milk"
	m := r.Insert(tmp)

	inbox := r.GetBySection(domain.SectionInbox)
	if len(inbox) != 1 || inbox[0].ID != "local-1" {
		t.Fatalf("expected optimistic task in inbox, got %+v", inbox)
	}
	r.LoadSnapshot(nil)
	if _, ok := r.GetByID("local-1"); !ok {
		t.Fatal("snapshot dropped unconfirmed create")
	}

	r.ConfirmCreate(m, "t123")
	got, ok := r.GetByID("t123")
	if !ok || got.Title != "Buy milk" || got.Section != domain.SectionInbox {
		t.Fatalf("unexpected confirmed task %+v", got)
	}
	if r.Resolve("local-1") != "t123" || r.ShardKey("t123") != "local-1" {
		t.Fatal("expected alias from temporary id")
	}

	stored := task("t123", domain.SectionInbox, clock.t)
	stored.Title = "Buy milk"
	r.LoadSnapshot([]domain.Task{stored})
	if n := len(r.All()); n != 1 {
		t.Fatalf("expected a single task, got %d", n)
	}
}

func TestConfirmCreateAfterSnapshotRace(t *testing.T) {
	r, clock := newTestRepo()
	m := r.Insert(task("local-1", domain.SectionInbox, clock.t))
	r.LoadSnapshot([]domain.Task{task("t123", domain.SectionInbox, clock.t)})
	if n := len(r.All()); n != 2 {
		t.Fatalf("expected optimistic and stored copies before confirmation, got %d", n)
	}
	r.ConfirmCreate(m, "t123")
	if n := len(r.All()); n != 1 {
		t.Fatalf("expected duplicate folded, got %d", n)
	}
}

func TestAcknowledgedCreateExpiresAfterGrace(t *testing.T) {
	r, clock := newTestRepo()
	m := r.Insert(task("local-1", domain.SectionInbox, clock.t))
	r.ConfirmCreate(m, "t9")
	r.LoadSnapshot(nil)
	if _, ok := r.GetByID("t9"); !ok {
		t.Fatal("expected acknowledged create to survive within grace")
	}
	clock.Advance(2 * time.Minute)
	r.LoadSnapshot(nil)
	if _, ok := r.GetByID("t9"); ok {
		t.Fatal("expected task gone after grace")
	}
}

func TestRevertCreateRemovesTask(t *testing.T) {
	r, clock := newTestRepo()
	m := r.Insert(task("local-1", domain.SectionInbox, clock.t))
	r.Revert(m)
	if _, ok := r.GetByID("local-1"); ok {
		t.Fatal("expected failed create removed")
	}
}

func TestHideAndRevertDelete(t *testing.T) {
	r, clock := newTestRepo()
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, clock.t)})
	m, err := r.Hide("t1")
	if err != nil {
		t.Fatalf("hide: %v", err)
	}
	if _, ok := r.GetByID("t1"); ok {
		t.Fatal("expected hidden task")
	}
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, clock.t)})
	if _, ok := r.GetByID("t1"); ok {
		t.Fatal("snapshot resurrected task with delete in flight")
	}
	r.Revert(m)
	if _, ok := r.GetByID("t1"); !ok {
		t.Fatal("expected task restored")
	}
}

func TestWatchSignalsChanges(t *testing.T) {
	r, clock := newTestRepo()
	ch, stop := r.Watch()
	defer stop()
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, clock.t)})
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}
}

func TestMarkDegradedKeepsTasks(t *testing.T) {
	r, clock := newTestRepo()
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, clock.t)})
	r.MarkDegraded(errors.New("connection reset"))
	if _, ok := r.GetByID("t1"); !ok {
		t.Fatal("expected cached task kept")
	}
	st := r.Status()
	if !st.Degraded || st.Error != "connection reset" {
		t.Fatalf("unexpected status %+v", st)
	}
	r.LoadSnapshot([]domain.Task{task("t1", domain.SectionInbox, clock.t)})
	if r.Status().Degraded {
		t.Fatal("expected snapshot to clear degraded flag")
	}
	r.Clear()
	if len(r.All()) != 0 {
		t.Fatal("expected empty repository after clear")
	}
}
