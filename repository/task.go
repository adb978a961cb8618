package repository

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"gtdsync/domain"
)

// MutationKind tells Revert how to undo a mutation.
type MutationKind int

const (
	MutationUpdate MutationKind = iota
	MutationCreate
	MutationDelete
)

// Mutation identifies one optimistic change so it can be confirmed or
// reverted without disturbing later changes to the same task.
type Mutation struct {
	Kind   MutationKind
	TaskID string
	Token  uint64
	Patch  domain.TaskPatch
	Fields []domain.Field
	At     time.Time
	// base is the confirmed task when the mutation was applied.
	base domain.Task
}

type overlay struct {
	token uint64
	patch domain.TaskPatch
	at    time.Time
}

type entry struct {
	confirmed domain.Task
	// origin is the id the entry was first known by; commands shard on it so
	// work queued against a temporary id keeps its order after re-keying.
	origin string
	// local marks an optimistic create the remote has not acknowledged.
	local bool
	// awaiting is set when a create was acknowledged but no snapshot has
	// included the task yet.
	awaiting time.Time
	pending  map[domain.Field]*overlay
	// ackedAt records, per field, the latest local write known to be stored
	// remotely. Snapshots older than it do not overwrite that field.
	ackedAt  map[domain.Field]time.Time
	deleting *overlay
	modified time.Time
}

func newEntry(t domain.Task) *entry {
	return &entry{
		confirmed: t.Clone(),
		origin:    t.ID,
		pending:   make(map[domain.Field]*overlay),
		ackedAt:   make(map[domain.Field]time.Time),
	}
}

func (e *entry) view() domain.Task {
	t := e.confirmed.Clone()
	for _, p := range e.pending {
		p.patch.Apply(&t)
		if p.at.After(t.UpdatedAt) {
			t.UpdatedAt = p.at
		}
	}
	return t
}

// TaskRepository holds the signed-in user's tasks: the last confirmed remote
// state plus optimistic overlays that have not been reconciled yet.
type TaskRepository struct {
	userID string
	grace  time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	aliases map[string]string
	seq     uint64
	status  Status

	broker *broker
}

// NewTaskRepository creates an empty repository scoped to userID. grace bounds
// how long an acknowledged create survives snapshots that do not include it.
func NewTaskRepository(userID string, grace time.Duration) *TaskRepository {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &TaskRepository{
		userID:  userID,
		grace:   grace,
		now:     time.Now,
		entries: make(map[string]*entry),
		aliases: make(map[string]string),
		broker:  newBroker(),
	}
}

// UserID returns the owner every task in the repository belongs to.
func (r *TaskRepository) UserID() string { return r.userID }

// Watch returns a channel signalled after every visible change.
func (r *TaskRepository) Watch() (<-chan struct{}, func()) { return r.broker.subscribe() }

func (r *TaskRepository) resolveLocked(id string) string {
	if real, ok := r.aliases[id]; ok {
		return real
	}
	return id
}

// Resolve maps a temporary id to the id assigned by the remote store.
func (r *TaskRepository) Resolve(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(id)
}

// ShardKey returns a stable key for id that survives create confirmation.
func (r *TaskRepository) ShardKey(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[r.resolveLocked(id)]; ok {
		return e.origin
	}
	return id
}

func (r *TaskRepository) stampLocked(e *entry) time.Time {
	at := r.now()
	if !at.After(e.modified) {
		at = e.modified.Add(time.Nanosecond)
	}
	e.modified = at
	return at
}

// LoadSnapshot replaces the local set with a remote snapshot. Optimistic
// overlays newer than the snapshot survive; everything else is overwritten.
func (r *TaskRepository) LoadSnapshot(tasks []domain.Task) {
	r.mu.Lock()
	now := r.now()
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if t.UserID != r.userID {
			log.WithFields(log.Fields{"task": t.ID, "owner": t.UserID, "user": r.userID}).Warn("dropping task owned by another user")
			continue
		}
		seen[t.ID] = struct{}{}
		e, ok := r.entries[t.ID]
		if !ok {
			r.entries[t.ID] = newEntry(t)
			continue
		}
		r.mergeLocked(e, t)
	}
	for id, e := range r.entries {
		if _, ok := seen[id]; ok {
			continue
		}
		if e.local {
			continue
		}
		if !e.awaiting.IsZero() && now.Sub(e.awaiting) < r.grace {
			continue
		}
		delete(r.entries, id)
	}
	for tmp, real := range r.aliases {
		if _, ok := r.entries[real]; !ok {
			delete(r.aliases, tmp)
		}
	}
	r.status = Status{LastSync: now}
	r.mu.Unlock()
	r.broker.notify()
}

func (r *TaskRepository) mergeLocked(e *entry, t domain.Task) {
	prev := e.confirmed
	next := t.Clone()
	for f, at := range e.ackedAt {
		if t.UpdatedAt.Before(at) {
			if !domain.SameField(prev, next, f) {
				log.WithFields(log.Fields{"task": t.ID, "field": f, "snapshot": t.UpdatedAt, "acked": at}).Debug("stale snapshot field kept")
			}
			copyField(&next, prev, f)
			continue
		}
		delete(e.ackedAt, f)
	}
	e.confirmed = next
	e.awaiting = time.Time{}
	// A pending field is settled by Confirm or Revert. A snapshot only settles
	// it early once it carries the pending value and is not older than it.
	for f, p := range e.pending {
		if t.UpdatedAt.Before(p.at) {
			continue
		}
		carried := next.Clone()
		p.patch.Apply(&carried)
		if domain.SameField(carried, next, f) {
			delete(e.pending, f)
		}
	}
}

func copyField(dst *domain.Task, src domain.Task, f domain.Field) {
	switch f {
	case domain.FieldTitle:
		dst.Title = src.Title
	case domain.FieldDescription:
		dst.Description = src.Description
	case domain.FieldSection:
		dst.Section = src.Section
	case domain.FieldProjectID:
		dst.ProjectID = src.ProjectID
	case domain.FieldCategory:
		dst.Category = src.Category
	case domain.FieldPriority:
		dst.Priority = src.Priority
	case domain.FieldEstimatedTime:
		dst.EstimatedTime = src.EstimatedTime
	case domain.FieldCompleted:
		dst.Completed = src.Completed
	case domain.FieldDueDate:
		dst.DueDate = src.Clone().DueDate
	case domain.FieldSortOrder:
		dst.SortOrder = src.SortOrder
	}
}

// ApplyOptimistic overlays p on the task and marks the touched fields pending.
// A later mutation of the same field supersedes an earlier one.
func (r *TaskRepository) ApplyOptimistic(id string, p domain.TaskPatch) (Mutation, error) {
	r.mu.Lock()
	id = r.resolveLocked(id)
	e, ok := r.entries[id]
	if !ok || e.deleting != nil {
		r.mu.Unlock()
		return Mutation{}, &domain.NotFoundError{Kind: "task", ID: id}
	}
	r.seq++
	m := Mutation{Kind: MutationUpdate, TaskID: id, Token: r.seq, Patch: p, Fields: p.Fields(), At: r.stampLocked(e), base: e.confirmed.Clone()}
	for _, f := range m.Fields {
		e.pending[f] = &overlay{token: m.Token, patch: p.Only(f), at: m.At}
	}
	r.mu.Unlock()
	r.broker.notify()
	return m, nil
}

// Insert adds a task the remote store has not seen yet.
func (r *TaskRepository) Insert(t domain.Task) Mutation {
	r.mu.Lock()
	e := newEntry(t)
	e.local = true
	e.modified = t.UpdatedAt
	r.entries[t.ID] = e
	r.seq++
	m := Mutation{Kind: MutationCreate, TaskID: t.ID, Token: r.seq, At: t.UpdatedAt}
	r.mu.Unlock()
	r.broker.notify()
	return m
}

// Hide removes the task from every view until the delete resolves.
func (r *TaskRepository) Hide(id string) (Mutation, error) {
	r.mu.Lock()
	id = r.resolveLocked(id)
	e, ok := r.entries[id]
	if !ok || e.deleting != nil {
		r.mu.Unlock()
		return Mutation{}, &domain.NotFoundError{Kind: "task", ID: id}
	}
	r.seq++
	m := Mutation{Kind: MutationDelete, TaskID: id, Token: r.seq, At: r.stampLocked(e)}
	e.deleting = &overlay{token: m.Token, at: m.At}
	r.mu.Unlock()
	r.broker.notify()
	return m, nil
}

// ConfirmCreate re-keys an optimistic create under the id the remote store
// assigned. If a snapshot already delivered that id the temporary copy is
// folded into it so no duplicate remains.
func (r *TaskRepository) ConfirmCreate(m Mutation, realID string) {
	r.mu.Lock()
	e, ok := r.entries[m.TaskID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, m.TaskID)
	r.aliases[m.TaskID] = realID
	if existing, ok := r.entries[realID]; ok {
		existing.origin = e.origin
		for f, p := range e.pending {
			if cur, ok := existing.pending[f]; !ok || cur.at.Before(p.at) {
				existing.pending[f] = p
			}
		}
		if e.deleting != nil && existing.deleting == nil {
			existing.deleting = e.deleting
		}
	} else {
		e.local = false
		e.awaiting = r.now()
		e.confirmed.ID = realID
		r.entries[realID] = e
	}
	r.mu.Unlock()
	r.broker.notify()
}

// Confirm records that the remote store accepted m. Acknowledged values
// become the new rollback baseline for their fields, unless a snapshot
// changed the field after m was applied.
func (r *TaskRepository) Confirm(m Mutation) {
	if m.Kind != MutationUpdate {
		return
	}
	r.mu.Lock()
	e, ok := r.entries[r.resolveLocked(m.TaskID)]
	if !ok {
		r.mu.Unlock()
		return
	}
	for _, f := range m.Fields {
		if p, ok := e.pending[f]; ok && p.token == m.Token {
			delete(e.pending, f)
		}
		if at, ok := e.ackedAt[f]; ok && at.After(m.At) {
			continue
		}
		if !domain.SameField(e.confirmed, m.base, f) {
			continue
		}
		m.Patch.Only(f).Apply(&e.confirmed)
		e.ackedAt[f] = m.At
	}
	r.mu.Unlock()
	r.broker.notify()
}

// Revert undoes m. Only fields still owned by m are restored, so a failed
// write never rolls back a newer change to the same field.
func (r *TaskRepository) Revert(m Mutation) {
	r.mu.Lock()
	e, ok := r.entries[r.resolveLocked(m.TaskID)]
	if !ok {
		r.mu.Unlock()
		return
	}
	switch m.Kind {
	case MutationCreate:
		if e.local {
			delete(r.entries, m.TaskID)
		}
	case MutationDelete:
		if e.deleting != nil && e.deleting.token == m.Token {
			e.deleting = nil
		}
	default:
		for _, f := range m.Fields {
			if p, ok := e.pending[f]; ok && p.token == m.Token {
				delete(e.pending, f)
			}
		}
	}
	r.mu.Unlock()
	r.broker.notify()
}

// RevertOptimistic drops every pending change on the task and restores its
// last confirmed state.
func (r *TaskRepository) RevertOptimistic(id string) {
	r.mu.Lock()
	e, ok := r.entries[r.resolveLocked(id)]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.pending = make(map[domain.Field]*overlay)
	e.deleting = nil
	r.mu.Unlock()
	r.broker.notify()
}

// Remove drops the task locally.
func (r *TaskRepository) Remove(id string) {
	r.mu.Lock()
	delete(r.entries, r.resolveLocked(id))
	r.mu.Unlock()
	r.broker.notify()
}

// GetByID returns the task as currently displayed.
func (r *TaskRepository) GetByID(id string) (domain.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[r.resolveLocked(id)]
	if !ok || e.deleting != nil {
		return domain.Task{}, false
	}
	return e.view(), true
}

// Known reports whether the repository holds id, including tasks hidden by
// an unresolved delete.
func (r *TaskRepository) Known(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[r.resolveLocked(id)]
	return ok
}

// IsPending reports whether the task has unreconciled local changes.
func (r *TaskRepository) IsPending(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[r.resolveLocked(id)]
	if !ok {
		return false
	}
	return e.local || len(e.pending) > 0 || e.deleting != nil
}

// All returns every visible task, newest first.
func (r *TaskRepository) All() []domain.Task {
	r.mu.RLock()
	out := make([]domain.Task, 0, len(r.entries))
	for _, e := range r.entries {
		if e.deleting != nil {
			continue
		}
		out = append(out, e.view())
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

// GetBySection returns the board for section.
func (r *TaskRepository) GetBySection(section domain.Section) []domain.Task {
	return domain.FilterBySection(r.All(), section)
}

// GetByProject returns every task referencing projectID.
func (r *TaskRepository) GetByProject(projectID string) []domain.Task {
	return domain.FilterByProject(r.All(), projectID)
}

// Filtered applies f over the current tasks.
func (r *TaskRepository) Filtered(f domain.TaskFilter) []domain.Task {
	return domain.FilteredTasks(r.All(), f)
}

// MarkDegraded keeps the cached tasks but flags them as possibly stale.
func (r *TaskRepository) MarkDegraded(err error) {
	r.mu.Lock()
	r.status.Degraded = true
	if err != nil {
		r.status.Error = err.Error()
	}
	r.mu.Unlock()
	r.broker.notify()
}

// Status reports when the last snapshot arrived and whether the stream is degraded.
func (r *TaskRepository) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Clear wipes all state; used when the session ends.
func (r *TaskRepository) Clear() {
	r.mu.Lock()
	r.entries = make(map[string]*entry)
	r.aliases = make(map[string]string)
	r.status = Status{}
	r.mu.Unlock()
	r.broker.notify()
}
