// Package memory is an in-process remote store with live subscriptions, used
// for local development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gtdsync/domain"
)

type watcher struct {
	user string
	wake chan struct{}
	errs chan error
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (w *watcher) Stop() {
	w.once.Do(func() { close(w.stop) })
	w.wg.Wait()
}

func (w *watcher) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Store keeps every collection in memory, partitioned by user.
type Store struct {
	Now func() time.Time

	mu         sync.Mutex
	tasks      map[string]map[string]domain.Task
	projects   map[string]map[string]domain.Project
	categories map[string][]domain.Category
	settings   map[string]domain.Settings
	taskSubs   map[*watcher]struct{}
	projSubs   map[*watcher]struct{}
}

func New() *Store {
	return &Store{
		Now:        time.Now,
		tasks:      make(map[string]map[string]domain.Task),
		projects:   make(map[string]map[string]domain.Project),
		categories: make(map[string][]domain.Category),
		settings:   make(map[string]domain.Settings),
		taskSubs:   make(map[*watcher]struct{}),
		projSubs:   make(map[*watcher]struct{}),
	}
}

func (s *Store) notify(subs map[*watcher]struct{}, user string) {
	for w := range subs {
		if w.user == user {
			w.signal()
		}
	}
}

func (s *Store) CreateTask(ctx context.Context, t domain.Task) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = uuid.NewString()
	now := s.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if s.tasks[t.UserID] == nil {
		s.tasks[t.UserID] = make(map[string]domain.Task)
	}
	s.tasks[t.UserID][t.ID] = t.Clone()
	s.notify(s.taskSubs, t.UserID)
	return t.ID, nil
}

func (s *Store) UpdateTask(ctx context.Context, userID, id string, p domain.TaskPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[userID][id]
	if !ok {
		return &domain.NotFoundError{Kind: "task", ID: id}
	}
	p.Apply(&t)
	t.UpdatedAt = s.Now().UTC()
	s.tasks[userID][id] = t
	s.notify(s.taskSubs, userID)
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[userID][id]; !ok {
		return &domain.NotFoundError{Kind: "task", ID: id}
	}
	delete(s.tasks[userID], id)
	s.notify(s.taskSubs, userID)
	return nil
}

func (s *Store) CreateProject(ctx context.Context, p domain.Project) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = uuid.NewString()
	p.CreatedAt = s.Now().UTC()
	if s.projects[p.UserID] == nil {
		s.projects[p.UserID] = make(map[string]domain.Project)
	}
	s.projects[p.UserID][p.ID] = p
	s.notify(s.projSubs, p.UserID)
	return p.ID, nil
}

func (s *Store) DeleteProject(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[userID][id]; !ok {
		return &domain.NotFoundError{Kind: "project", ID: id}
	}
	delete(s.projects[userID], id)
	s.notify(s.projSubs, userID)
	return nil
}

func (s *Store) ListCategories(ctx context.Context, userID string) ([]domain.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Category(nil), s.categories[userID]...), nil
}

func (s *Store) CreateCategories(ctx context.Context, cs []domain.Category) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cs {
		s.categories[c.UserID] = append(s.categories[c.UserID], c)
	}
	return nil
}

func (s *Store) GetSettings(ctx context.Context, userID string) (*domain.Settings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.settings[userID]
	if !ok {
		return nil, nil
	}
	return &set, nil
}

func (s *Store) SaveSettings(ctx context.Context, set domain.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if set.UpdatedAt.IsZero() {
		set.UpdatedAt = s.Now()
	}
	s.settings[set.UserID] = set
	return nil
}

// Fail reports err to every live subscription of userID, simulating a broken
// stream.
func (s *Store) Fail(userID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subs := range []map[*watcher]struct{}{s.taskSubs, s.projSubs} {
		for w := range subs {
			if w.user != userID {
				continue
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (s *Store) taskSnapshot(userID string) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, 0, len(s.tasks[userID]))
	for _, t := range s.tasks[userID] {
		out = append(out, t.Clone())
	}
	return out
}

func (s *Store) projectSnapshot(userID string) []domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Project, 0, len(s.projects[userID]))
	for _, p := range s.projects[userID] {
		out = append(out, p)
	}
	return out
}

func (s *Store) SubscribeToUserTasks(ctx context.Context, userID string, onSnapshot domain.SnapshotHandler[domain.Task], onError func(error)) (domain.Subscription, error) {
	return subscribe(ctx, s, s.taskSubs, userID, func() { onSnapshot(s.taskSnapshot(userID)) }, onError)
}

func (s *Store) SubscribeToUserProjects(ctx context.Context, userID string, onSnapshot domain.SnapshotHandler[domain.Project], onError func(error)) (domain.Subscription, error) {
	return subscribe(ctx, s, s.projSubs, userID, func() { onSnapshot(s.projectSnapshot(userID)) }, onError)
}

// subscribe delivers the current snapshot, then one snapshot per change
// burst, from a single goroutine so handlers see them in order.
func subscribe(ctx context.Context, s *Store, subs map[*watcher]struct{}, userID string, deliver func(), onError func(error)) (domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &watcher{user: userID, wake: make(chan struct{}, 1), errs: make(chan error, 1), stop: make(chan struct{})}
	s.mu.Lock()
	subs[w] = struct{}{}
	s.mu.Unlock()

	deliver()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(subs, w)
			s.mu.Unlock()
		}()
		for {
			select {
			case <-w.stop:
				return
			case <-w.wake:
				deliver()
			case err := <-w.errs:
				if onError != nil {
					onError(err)
				}
			}
		}
	}()
	return w, nil
}
