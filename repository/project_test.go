package repository

import (
	"errors"
	"testing"
	"time"

	"gtdsync/domain"
)

func newTestProjects() (*ProjectRepository, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	r := NewProjectRepository("u1", time.Minute)
	r.now = clock.Now
	return r, clock
}

func project(id string, created time.Time) domain.Project {
	return domain.Project{ID: id, Name: "project " + id, UserID: "u1", CreatedAt: created}
}

func TestProjectSnapshotReplacesSet(t *testing.T) {
	r, clock := newTestProjects()
	r.LoadSnapshot([]domain.Project{project("p1", clock.t), project("p2", clock.t.Add(time.Hour))})
	r.LoadSnapshot([]domain.Project{project("p2", clock.t.Add(time.Hour)), {ID: "px", UserID: "u2"}})

	all := r.All()
	if len(all) != 1 || all[0].ID != "p2" {
		t.Fatalf("unexpected projects %+v", all)
	}
	if r.Status().LastSync.IsZero() {
		t.Fatal("snapshot should stamp last sync")
	}
}

func TestProjectOptimisticCreateSurvivesSnapshots(t *testing.T) {
	r, clock := newTestProjects()
	r.Insert(domain.Project{ID: "local-1", Name: "Move house", UserID: "u1", CreatedAt: clock.t})
	r.LoadSnapshot(nil)
	if _, ok := r.GetByID("local-1"); !ok {
		t.Fatal("unacknowledged create must survive a snapshot")
	}

	r.ConfirmCreate("local-1", "p9")
	if _, ok := r.GetByID("local-1"); ok {
		t.Fatal("temporary id should be gone after confirm")
	}
	r.LoadSnapshot(nil)
	if p, ok := r.GetByID("p9"); !ok || p.Name != "Move house" {
		t.Fatalf("acknowledged create should stay within grace, got %+v %v", p, ok)
	}

	clock.Advance(2 * time.Minute)
	r.LoadSnapshot(nil)
	if _, ok := r.GetByID("p9"); ok {
		t.Fatal("acknowledged create should expire after grace")
	}
}

func TestProjectHideAndUnhide(t *testing.T) {
	r, clock := newTestProjects()
	r.LoadSnapshot([]domain.Project{project("p1", clock.t)})

	if !r.Hide("p1") {
		t.Fatal("expected hide to find p1")
	}
	r.LoadSnapshot([]domain.Project{project("p1", clock.t)})
	if len(r.All()) != 0 {
		t.Fatal("hidden project must stay hidden across snapshots")
	}
	r.Unhide("p1")
	if _, ok := r.GetByID("p1"); !ok {
		t.Fatal("unhide should restore p1")
	}
	if r.Hide("missing") {
		t.Fatal("hide of unknown project should report false")
	}
}

func TestViewsReportProgressAndOrphans(t *testing.T) {
	projects, clock := newTestProjects()
	projects.LoadSnapshot([]domain.Project{project("p1", clock.t)})

	tasks, _ := newTestRepo()
	a := task("t1", domain.SectionNext, clock.t)
	a.ProjectID, a.EstimatedTime, a.Completed = "p1", 30, true
	b := task("t2", domain.SectionNext, clock.t)
	b.ProjectID, b.EstimatedTime = "p1", 90
	c := task("t3", domain.SectionInbox, clock.t)
	c.ProjectID = "gone"
	tasks.LoadSnapshot([]domain.Task{a, b, c})

	views, orphans := Views(projects, tasks)
	if len(views) != 1 || len(views[0].Tasks) != 2 {
		t.Fatalf("unexpected views %+v", views)
	}
	if views[0].TotalHours != 2 || views[0].CompletedHours != 0.5 || views[0].Percentage != 25 {
		t.Fatalf("unexpected progress %+v", views[0].ProjectProgress)
	}
	if len(orphans) != 1 || orphans[0].ID != "t3" {
		t.Fatalf("unexpected orphans %+v", orphans)
	}
}

func TestProjectDegradedThenClear(t *testing.T) {
	r, clock := newTestProjects()
	r.LoadSnapshot([]domain.Project{project("p1", clock.t)})
	r.MarkDegraded(errors.New("feed down"))
	if st := r.Status(); !st.Degraded || st.Error != "feed down" || len(r.All()) != 1 {
		t.Fatalf("degraded repo must keep projects, got %+v", st)
	}
	r.Clear()
	if len(r.All()) != 0 || r.Status().Degraded {
		t.Fatal("clear should drop projects and status")
	}
}

func TestCategoryRepositoryListsByName(t *testing.T) {
	r := NewCategoryRepository()
	r.Set([]domain.Category{{ID: "b", Name: "Work"}, {ID: "a", Name: "Home"}})
	r.Add(domain.Category{ID: "c", Name: "Errands"})
	r.Remove("b")

	got := r.List()
	if len(got) != 2 || got[0].Name != "Errands" || got[1].Name != "Home" {
		t.Fatalf("unexpected categories %+v", got)
	}
	if _, ok := r.Get("b"); ok {
		t.Fatal("removed category still present")
	}
}
