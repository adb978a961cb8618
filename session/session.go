package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"gtdsync/command"
	"gtdsync/domain"
	"gtdsync/repository"
)

// Options configures a session.
type Options struct {
	Command command.Options
	// CreateGrace bounds how long a confirmed create stays visible before a
	// snapshot includes it.
	CreateGrace time.Duration
	Logger      *log.Logger
}

// Session owns everything scoped to one signed-in user. It is created on
// sign-in and torn down on sign-out; nothing in it outlives Close.
type Session struct {
	Identity   domain.Identity
	Tasks      *repository.TaskRepository
	Projects   *repository.ProjectRepository
	Categories *repository.CategoryRepository
	Settings   *repository.SettingsRepository
	Commands   *command.Commander

	log  *log.Entry
	subs []domain.Subscription

	once sync.Once
	done chan struct{}
}

// Open subscribes to the user's collections and returns a ready session.
// Default categories are seeded for users that have none.
func Open(ctx context.Context, id domain.Identity, store domain.RemoteStore, opts Options) (*Session, error) {
	if id.UID == "" {
		return nil, &domain.ValidationError{Field: "uid", Reason: "must not be empty"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	if opts.Command.Logger == nil {
		opts.Command.Logger = logger
	}
	s := &Session{
		Identity:   id,
		Tasks:      repository.NewTaskRepository(id.UID, opts.CreateGrace),
		Projects:   repository.NewProjectRepository(id.UID, opts.CreateGrace),
		Categories: repository.NewCategoryRepository(),
		Settings:   repository.NewSettingsRepository(id.UID),
		log:        logger.WithField("user", id.UID),
		done:       make(chan struct{}),
	}

	set, err := store.GetSettings(ctx, id.UID)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	s.Settings.Set(set)

	cats, err := store.ListCategories(ctx, id.UID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	if len(cats) == 0 {
		cats = domain.DefaultCategories(id.UID)
		if err := store.CreateCategories(ctx, cats); err != nil {
			return nil, fmt.Errorf("seed categories: %w", err)
		}
		s.log.Info("seeded default categories")
	}
	s.Categories.Set(cats)

	taskSub, err := store.SubscribeToUserTasks(ctx, id.UID, s.Tasks.LoadSnapshot, s.degraded("tasks", s.Tasks.MarkDegraded))
	if err != nil {
		return nil, fmt.Errorf("subscribe tasks: %w", err)
	}
	s.subs = append(s.subs, taskSub)

	projectSub, err := store.SubscribeToUserProjects(ctx, id.UID, s.Projects.LoadSnapshot, s.degraded("projects", s.Projects.MarkDegraded))
	if err != nil {
		taskSub.Stop()
		return nil, fmt.Errorf("subscribe projects: %w", err)
	}
	s.subs = append(s.subs, projectSub)

	s.Commands = command.New(store, s.Tasks, s.Projects, s.Categories, s.Settings, opts.Command)
	s.log.Debug("session opened")
	return s, nil
}

func (s *Session) degraded(collection string, mark func(error)) func(error) {
	return func(err error) {
		serr := &domain.SubscriptionError{Collection: collection, Err: err}
		s.log.WithError(err).WithField("collection", collection).Error("subscription degraded")
		mark(serr)
	}
}

// SyncStatus combines the freshness of both collections.
type SyncStatus struct {
	Tasks    repository.Status `json:"tasks"`
	Projects repository.Status `json:"projects"`
}

func (s *Session) Status() SyncStatus {
	return SyncStatus{Tasks: s.Tasks.Status(), Projects: s.Projects.Status()}
}

// Board returns the tasks shown on section under the user's settings.
func (s *Session) Board(section domain.Section) []domain.Task {
	return domain.FilterBySectionWith(s.Tasks.All(), section, s.Settings.Get())
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close cancels the subscriptions, stops the command layer and clears all
// cached state. Done is closed first so watchers never see the cleared
// repositories. It is safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		for _, sub := range s.subs {
			sub.Stop()
		}
		s.Commands.Close()
		s.Tasks.Clear()
		s.Projects.Clear()
		s.Categories.Clear()
		s.Settings.Clear()
		s.log.Debug("session closed")
	})
}
