package repository

import (
	"sort"
	"sync"
	"time"

	"gtdsync/domain"
)

type projectEntry struct {
	project domain.Project
	// origin is the id the project was first known by.
	origin   string
	local    bool
	awaiting time.Time
	deleting bool
}

// ProjectRepository mirrors TaskRepository for projects: snapshots replace the
// set wholesale and creates are appended optimistically.
type ProjectRepository struct {
	userID string
	grace  time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]*projectEntry
	aliases map[string]string
	status  Status

	broker *broker
}

// NewProjectRepository creates an empty repository scoped to userID. grace
// plays the same role as for NewTaskRepository.
func NewProjectRepository(userID string, grace time.Duration) *ProjectRepository {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &ProjectRepository{
		userID:  userID,
		grace:   grace,
		now:     time.Now,
		entries: make(map[string]*projectEntry),
		aliases: make(map[string]string),
		broker:  newBroker(),
	}
}

func (r *ProjectRepository) resolveLocked(id string) string {
	if real, ok := r.aliases[id]; ok {
		return real
	}
	return id
}

// Resolve maps a temporary project id to the one assigned remotely.
func (r *ProjectRepository) Resolve(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(id)
}

// ShardKey returns the id the project was first known by, so commands queued
// against a temporary id stay ordered after the create is confirmed.
func (r *ProjectRepository) ShardKey(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[r.resolveLocked(id)]; ok {
		return e.origin
	}
	return id
}

// Watch returns a channel signalled after every visible change.
func (r *ProjectRepository) Watch() (<-chan struct{}, func()) { return r.broker.subscribe() }

// LoadSnapshot replaces the local set. Unacknowledged creates are kept, and
// acknowledged ones survive until a snapshot includes them or grace expires.
func (r *ProjectRepository) LoadSnapshot(projects []domain.Project) {
	r.mu.Lock()
	now := r.now()
	next := make(map[string]*projectEntry, len(projects))
	for _, p := range projects {
		if p.UserID != r.userID {
			continue
		}
		ent := &projectEntry{project: p, origin: p.ID}
		if prev, ok := r.entries[p.ID]; ok {
			ent.deleting = prev.deleting
			ent.origin = prev.origin
		}
		next[p.ID] = ent
	}
	for id, e := range r.entries {
		if _, ok := next[id]; ok {
			continue
		}
		if e.local || (!e.awaiting.IsZero() && now.Sub(e.awaiting) < r.grace) {
			next[id] = e
		}
	}
	r.entries = next
	for tmp, real := range r.aliases {
		if _, ok := next[real]; !ok {
			delete(r.aliases, tmp)
		}
	}
	r.status = Status{LastSync: now}
	r.mu.Unlock()
	r.broker.notify()
}

// Insert appends a project the remote store has not acknowledged yet.
func (r *ProjectRepository) Insert(p domain.Project) {
	r.mu.Lock()
	r.entries[p.ID] = &projectEntry{project: p, origin: p.ID, local: true}
	r.mu.Unlock()
	r.broker.notify()
}

// ConfirmCreate re-keys a local project under its remote id. The locally
// synthesized createdAt stands until a snapshot delivers the stored one.
func (r *ProjectRepository) ConfirmCreate(tempID, realID string) {
	r.mu.Lock()
	e, ok := r.entries[tempID]
	if ok {
		delete(r.entries, tempID)
		r.aliases[tempID] = realID
		if existing, exists := r.entries[realID]; exists {
			existing.origin = e.origin
			existing.deleting = existing.deleting || e.deleting
		} else {
			e.local = false
			e.awaiting = r.now()
			e.project.ID = realID
			r.entries[realID] = e
		}
	}
	r.mu.Unlock()
	r.broker.notify()
}

// Hide removes a project from view while its delete is in flight.
func (r *ProjectRepository) Hide(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[r.resolveLocked(id)]
	if ok {
		e.deleting = true
	}
	r.mu.Unlock()
	if ok {
		r.broker.notify()
	}
	return ok
}

// Unhide reverts Hide after a failed delete.
func (r *ProjectRepository) Unhide(id string) {
	r.mu.Lock()
	if e, ok := r.entries[r.resolveLocked(id)]; ok {
		e.deleting = false
	}
	r.mu.Unlock()
	r.broker.notify()
}

// Remove drops the project locally, by temporary or remote id.
func (r *ProjectRepository) Remove(id string) {
	r.mu.Lock()
	delete(r.entries, r.resolveLocked(id))
	r.mu.Unlock()
	r.broker.notify()
}

// GetByID returns a visible project. Projects hidden by a pending delete are
// reported missing.
func (r *ProjectRepository) GetByID(id string) (domain.Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[r.resolveLocked(id)]
	if !ok || e.deleting {
		return domain.Project{}, false
	}
	return e.project, true
}

// All returns visible projects, newest first.
func (r *ProjectRepository) All() []domain.Project {
	r.mu.RLock()
	out := make([]domain.Project, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.deleting {
			out = append(out, e.project)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *ProjectRepository) MarkDegraded(err error) {
	r.mu.Lock()
	r.status.Degraded = true
	if err != nil {
		r.status.Error = err.Error()
	}
	r.mu.Unlock()
	r.broker.notify()
}

func (r *ProjectRepository) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *ProjectRepository) Clear() {
	r.mu.Lock()
	r.entries = make(map[string]*projectEntry)
	r.aliases = make(map[string]string)
	r.status = Status{}
	r.mu.Unlock()
	r.broker.notify()
}

// ProjectView is a project with progress derived from its tasks.
type ProjectView struct {
	domain.Project
	domain.ProjectProgress
	Tasks []domain.Task `json:"tasks"`
}

// Views joins every project with its tasks. Tasks pointing at a project that
// no longer exists are returned separately as orphans.
func Views(projects *ProjectRepository, tasks *TaskRepository) ([]ProjectView, []domain.Task) {
	all := tasks.All()
	list := projects.All()
	known := make(map[string]struct{}, len(list))
	out := make([]ProjectView, 0, len(list))
	for _, p := range list {
		known[p.ID] = struct{}{}
		pt := domain.FilterByProject(all, p.ID)
		out = append(out, ProjectView{Project: p, ProjectProgress: domain.ComputeProjectProgress(pt), Tasks: pt})
	}
	orphans := make([]domain.Task, 0)
	for _, t := range all {
		if t.ProjectID == "" {
			continue
		}
		if _, ok := known[t.ProjectID]; !ok {
			orphans = append(orphans, t)
		}
	}
	return out, orphans
}

// CategoryRepository holds the user's categories.
type CategoryRepository struct {
	mu    sync.RWMutex
	items map[string]domain.Category
}

func NewCategoryRepository() *CategoryRepository {
	return &CategoryRepository{items: make(map[string]domain.Category)}
}

func (r *CategoryRepository) Set(cs []domain.Category) {
	r.mu.Lock()
	r.items = make(map[string]domain.Category, len(cs))
	for _, c := range cs {
		r.items[c.ID] = c
	}
	r.mu.Unlock()
}

func (r *CategoryRepository) Add(c domain.Category) {
	r.mu.Lock()
	r.items[c.ID] = c
	r.mu.Unlock()
}

func (r *CategoryRepository) Remove(id string) {
	r.mu.Lock()
	delete(r.items, id)
	r.mu.Unlock()
}

func (r *CategoryRepository) Get(id string) (domain.Category, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	return c, ok
}

// List returns categories ordered by name.
func (r *CategoryRepository) List() []domain.Category {
	r.mu.RLock()
	out := make([]domain.Category, 0, len(r.items))
	for _, c := range r.items {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *CategoryRepository) Clear() { r.Set(nil) }
