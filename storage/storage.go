// Package storage is the remote store adapter over Azure Table Storage. Live
// snapshots are driven by a Redis change feed.
package storage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"gtdsync/domain"
	"gtdsync/subscription"
)

const (
	collectionTasks    = "tasks"
	collectionProjects = "projects"
)

// Config names the tables and queue used by the store.
type Config struct {
	ConnectionString string
	TasksTable       string
	ProjectsTable    string
	CategoriesTable  string
	SettingsTable    string
	ChangesQueue     string
}

// Store implements domain.RemoteStore.
type Store struct {
	tasks      table
	projects   table
	categories table
	settings   table

	cache *Cache
	feed  *subscription.Hub
	queue *ChangeQueue

	now   func() time.Time
	newID func() string
}

// New creates a Store from the given connection string. The hub must be
// running for subscriptions to receive changes.
func New(cfg Config, feed *subscription.Hub, cache *Cache) (*Store, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(cfg.ConnectionString, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	var queue *ChangeQueue
	if cfg.ChangesQueue != "" {
		if queue, err = OpenChangeQueue(cfg.ConnectionString, cfg.ChangesQueue); err != nil {
			return nil, err
		}
	}
	return newStore(
		azTable{client: svc.NewClient(cfg.TasksTable)},
		azTable{client: svc.NewClient(cfg.ProjectsTable)},
		azTable{client: svc.NewClient(cfg.CategoriesTable)},
		azTable{client: svc.NewClient(cfg.SettingsTable)},
		feed, cache, queue,
	), nil
}

func newStore(tasks, projects, categories, settings table, feed *subscription.Hub, cache *Cache, queue *ChangeQueue) *Store {
	return &Store{
		tasks:      tasks,
		projects:   projects,
		categories: categories,
		settings:   settings,
		feed:       feed,
		cache:      cache,
		queue:      queue,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

func writeErr(op, id string, err error) error {
	if errors.Is(err, errNotFound) {
		kind := "task"
		if op == "deleteProject" {
			kind = "project"
		}
		return &domain.NotFoundError{Kind: kind, ID: id}
	}
	return &domain.RemoteWriteError{Op: op, ID: id, Err: err}
}

// changed evicts the cached snapshot and announces the write. Both are
// best effort: the write itself already succeeded.
func (s *Store) changed(ctx context.Context, userID, collection string) {
	key := tasksCacheKey(userID)
	if collection == collectionProjects {
		key = projectsCacheKey(userID)
	}
	s.cache.evict(ctx, key)
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, subscription.Change{UserID: userID, Collection: collection}); err != nil {
		log.WithError(err).WithFields(log.Fields{"user": userID, "collection": collection}).Warn("publish change")
	}
}

func (s *Store) enqueue(ctx context.Context, ev ChangeEvent) {
	if s.queue == nil {
		return
	}
	ev.Timestamp = s.now().UnixMilli()
	if err := s.queue.Enqueue(ctx, ev); err != nil {
		log.WithError(err).WithFields(log.Fields{"user": ev.UserID, "task": ev.TaskID}).Warn("enqueue change event")
	}
}

// CreateTask stores t under a new id. createdAt and updatedAt are stamped by
// the store.
func (s *Store) CreateTask(ctx context.Context, t domain.Task) (string, error) {
	t.ID = s.newID()
	now := s.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	payload, err := sonic.Marshal(newTaskEntity(t))
	if err != nil {
		return "", err
	}
	if err := s.tasks.add(ctx, payload); err != nil {
		return "", writeErr("createTask", t.ID, err)
	}
	s.changed(ctx, t.UserID, collectionTasks)
	s.enqueue(ctx, ChangeEvent{Type: TaskUpserted, UserID: t.UserID, TaskID: t.ID, Task: &t})
	return t.ID, nil
}

// UpdateTask merges p into the stored task.
func (s *Store) UpdateTask(ctx context.Context, userID, id string, p domain.TaskPatch) error {
	payload, err := sonic.Marshal(newTaskUpdate(userID, id, p, s.now()))
	if err != nil {
		return err
	}
	if err := s.tasks.merge(ctx, payload); err != nil {
		return writeErr("updateTask", id, err)
	}
	s.changed(ctx, userID, collectionTasks)
	if t, ok := s.findTask(ctx, userID, id); ok {
		s.enqueue(ctx, ChangeEvent{Type: TaskUpserted, UserID: userID, TaskID: id, Task: &t})
	}
	return nil
}

func (s *Store) findTask(ctx context.Context, userID, id string) (domain.Task, bool) {
	if s.queue == nil {
		return domain.Task{}, false
	}
	tasks, err := s.listTasks(ctx, userID)
	if err != nil {
		return domain.Task{}, false
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

func (s *Store) DeleteTask(ctx context.Context, userID, id string) error {
	if err := s.tasks.remove(ctx, userID, id); err != nil {
		return writeErr("deleteTask", id, err)
	}
	s.changed(ctx, userID, collectionTasks)
	s.enqueue(ctx, ChangeEvent{Type: TaskDeleted, UserID: userID, TaskID: id})
	return nil
}

func (s *Store) CreateProject(ctx context.Context, p domain.Project) (string, error) {
	p.ID = s.newID()
	p.CreatedAt = s.now().UTC()
	payload, err := sonic.Marshal(newProjectEntity(p))
	if err != nil {
		return "", err
	}
	if err := s.projects.add(ctx, payload); err != nil {
		return "", writeErr("createProject", p.ID, err)
	}
	s.changed(ctx, p.UserID, collectionProjects)
	return p.ID, nil
}

// DeleteProject removes the project only; tasks referencing it are left as is.
func (s *Store) DeleteProject(ctx context.Context, userID, id string) error {
	if err := s.projects.remove(ctx, userID, id); err != nil {
		return writeErr("deleteProject", id, err)
	}
	s.changed(ctx, userID, collectionProjects)
	return nil
}

func (s *Store) ListCategories(ctx context.Context, userID string) ([]domain.Category, error) {
	rows, err := s.categories.list(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Category, 0, len(rows))
	for _, row := range rows {
		var ent categoryEntity
		if err := sonic.Unmarshal(row, &ent); err != nil {
			return nil, err
		}
		out = append(out, ent.category())
	}
	return out, nil
}

func (s *Store) CreateCategories(ctx context.Context, cs []domain.Category) error {
	for _, c := range cs {
		payload, err := sonic.Marshal(newCategoryEntity(c))
		if err != nil {
			return err
		}
		if err := s.categories.add(ctx, payload); err != nil {
			return &domain.RemoteWriteError{Op: "createCategory", ID: c.ID, Err: err}
		}
	}
	return nil
}

// GetSettings returns the stored settings of userID, or nil when none were
// saved.
func (s *Store) GetSettings(ctx context.Context, userID string) (*domain.Settings, error) {
	rows, err := s.settings.list(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		var ent settingsEntity
		if err := sonic.Unmarshal(row, &ent); err != nil {
			return nil, err
		}
		if ent.RowKey == userID {
			out := ent.settings()
			return &out, nil
		}
	}
	return nil, nil
}

// SaveSettings inserts the settings row, merging over it when it exists.
func (s *Store) SaveSettings(ctx context.Context, set domain.Settings) error {
	if set.UpdatedAt.IsZero() {
		set.UpdatedAt = s.now()
	}
	payload, err := sonic.Marshal(newSettingsEntity(set))
	if err != nil {
		return err
	}
	err = s.settings.add(ctx, payload)
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict {
		err = s.settings.merge(ctx, payload)
	}
	if err != nil {
		return &domain.RemoteWriteError{Op: "saveSettings", ID: set.UserID, Err: err}
	}
	return nil
}

func (s *Store) listTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := s.tasks.list(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		var ent taskEntity
		if err := sonic.Unmarshal(row, &ent); err != nil {
			return nil, err
		}
		out = append(out, ent.task())
	}
	return out, nil
}

func (s *Store) listProjects(ctx context.Context, userID string) ([]domain.Project, error) {
	rows, err := s.projects.list(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Project, 0, len(rows))
	for _, row := range rows {
		var ent projectEntity
		if err := sonic.Unmarshal(row, &ent); err != nil {
			return nil, err
		}
		out = append(out, ent.project())
	}
	return out, nil
}

// FetchTasks loads the user's tasks through the snapshot cache.
func (s *Store) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	return s.cache.tasks(ctx, userID, func(ctx context.Context) ([]domain.Task, error) {
		return s.listTasks(ctx, userID)
	})
}

// FetchProjects loads the user's projects through the snapshot cache.
func (s *Store) FetchProjects(ctx context.Context, userID string) ([]domain.Project, error) {
	return s.cache.projects(ctx, userID, func(ctx context.Context) ([]domain.Project, error) {
		return s.listProjects(ctx, userID)
	})
}

func (s *Store) SubscribeToUserTasks(ctx context.Context, userID string, onSnapshot domain.SnapshotHandler[domain.Task], onError func(error)) (domain.Subscription, error) {
	if s.feed == nil {
		return nil, errors.New("storage: change feed not configured")
	}
	return s.feed.Subscribe(userID, collectionTasks, func(ctx context.Context) error {
		tasks, err := s.FetchTasks(ctx, userID)
		if err != nil {
			return err
		}
		onSnapshot(tasks)
		return nil
	}, onError), nil
}

func (s *Store) SubscribeToUserProjects(ctx context.Context, userID string, onSnapshot domain.SnapshotHandler[domain.Project], onError func(error)) (domain.Subscription, error) {
	if s.feed == nil {
		return nil, errors.New("storage: change feed not configured")
	}
	return s.feed.Subscribe(userID, collectionProjects, func(ctx context.Context) error {
		projects, err := s.FetchProjects(ctx, userID)
		if err != nil {
			return err
		}
		onSnapshot(projects)
		return nil
	}, onError), nil
}
