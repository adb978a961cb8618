package command

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gtdsync/domain"
	"gtdsync/repository"
)

const tracerName = "gtdsync/command"

// TempIDPrefix marks ids synthesized locally before the remote store assigns one.
const TempIDPrefix = "local-"

func isTemp(id string) bool { return strings.HasPrefix(id, TempIDPrefix) }

// Options tunes the command layer.
type Options struct {
	Workers      int
	Buffer       int
	WriteTimeout time.Duration
	Logger       *log.Logger
}

// Commander is the single entry point for user actions. Every command applies
// its optimistic change before returning and reconciles once the remote write
// resolves.
type Commander struct {
	userID     string
	store      domain.RemoteStore
	tasks      *repository.TaskRepository
	projects   *repository.ProjectRepository
	categories *repository.CategoryRepository
	settings   *repository.SettingsRepository

	disp    *dispatcher
	timeout time.Duration
	log     *log.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// New builds a Commander bound to one user's repositories. A nil settings
// repository means built-in defaults for new tasks and no settings command.
func New(store domain.RemoteStore, tasks *repository.TaskRepository, projects *repository.ProjectRepository, categories *repository.CategoryRepository, settings *repository.SettingsRepository, opts Options) *Commander {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 15 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Commander{
		userID:     tasks.UserID(),
		store:      store,
		tasks:      tasks,
		projects:   projects,
		categories: categories,
		settings:   settings,
		disp:       newDispatcher(opts.Workers, opts.Buffer),
		timeout:    opts.WriteTimeout,
		log:        opts.Logger,
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
}

// Close stops accepting commands. Writes still queued are abandoned and their
// operations fail with domain.ErrSessionClosed.
func (c *Commander) Close() { c.disp.close() }

type outcome struct {
	confirm  func()
	notFound func()
	revert   func()
}

// dispatch queues write behind earlier work on key and settles op with the
// result. Failures are classified into the domain error taxonomy.
func (c *Commander) dispatch(ctx context.Context, op *Operation, key string, write func(ctx context.Context) error, out outcome) *Operation {
	err := c.disp.submit(context.WithoutCancel(ctx), key, func(ctx context.Context) {
		select {
		case <-c.disp.stopping():
			out.revert()
			op.finish(StateRemoteFailed, domain.ErrSessionClosed)
			return
		default:
		}
		ctx, span := c.tracer.Start(ctx, "command."+op.Name(), trace.WithAttributes(
			attribute.String("gtd.command", op.Name()),
			attribute.String("gtd.entity_id", op.ID()),
		))
		defer span.End()
		start := time.Now()

		wctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := write(wctx)
		cancel()

		fields := log.Fields{"command": op.Name(), "id": op.ID(), "user": c.userID, "duration_ms": float64(time.Since(start)) / float64(time.Millisecond)}
		switch {
		case err == nil:
			out.confirm()
			span.SetStatus(codes.Ok, "")
			c.log.WithFields(fields).Debug("command.completed")
			op.finish(StateRemoteConfirmed, nil)
			return
		case domain.IsNotFound(err):
			out.notFound()
		default:
			var rw *domain.RemoteWriteError
			if !errors.As(err, &rw) {
				err = &domain.RemoteWriteError{Op: op.Name(), ID: op.ID(), Err: err}
			}
			out.revert()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.WithError(err).WithFields(fields).Warn("command.failed")
		op.finish(StateRemoteFailed, err)
	})
	if err != nil {
		out.revert()
		return op.finish(StateRemoteFailed, err)
	}
	return op
}

// CreateTask shows the new task immediately under a temporary id and swaps in
// the remote id once the create is stored. Unset section, priority and
// estimate come from the user's settings.
func (c *Commander) CreateTask(ctx context.Context, in domain.NewTask) *Operation {
	op := newOperation("createTask", "")
	if c.settings != nil {
		in.ApplyDefaults(c.settings.Get())
	}
	if err := in.Validate(); err != nil {
		return op.reject(err)
	}
	tmpID := TempIDPrefix + uuid.NewString()
	t := in.Task(tmpID, c.userID, c.now())
	m := c.tasks.Insert(t)
	op.applied(tmpID)

	return c.dispatch(ctx, op, tmpID, func(ctx context.Context) error {
		remote := t.Clone()
		remote.ID = ""
		id, err := c.store.CreateTask(ctx, remote)
		if err != nil {
			return err
		}
		c.tasks.ConfirmCreate(m, id)
		op.setID(id)
		return nil
	}, outcome{
		confirm:  func() {},
		notFound: func() { c.tasks.Revert(m) },
		revert:   func() { c.tasks.Revert(m) },
	})
}

// UpdateTask applies a partial update.
func (c *Commander) UpdateTask(ctx context.Context, id string, p domain.TaskPatch) *Operation {
	op := newOperation("updateTask", id)
	if err := p.Validate(); err != nil {
		return op.reject(err)
	}
	return c.update(ctx, op, id, p)
}

// ToggleComplete flips completed. Two toggles in a row restore the original value.
func (c *Commander) ToggleComplete(ctx context.Context, id string) *Operation {
	op := newOperation("toggleComplete", id)
	cur, ok := c.tasks.GetByID(id)
	if !ok {
		return op.reject(&domain.NotFoundError{Kind: "task", ID: id})
	}
	done := !cur.Completed
	return c.update(ctx, op, id, domain.TaskPatch{Completed: &done})
}

// MoveTaskToSection moves the task to section; moving to the current section
// does nothing.
func (c *Commander) MoveTaskToSection(ctx context.Context, id string, section domain.Section) *Operation {
	op := newOperation("moveTaskToSection", id)
	if !section.Valid() {
		return op.reject(&domain.ValidationError{Field: "section", Reason: "unknown section " + string(section)})
	}
	cur, ok := c.tasks.GetByID(id)
	if !ok {
		return op.reject(&domain.NotFoundError{Kind: "task", ID: id})
	}
	if cur.Section == section {
		return op.finish(StateUnchanged, nil)
	}
	return c.update(ctx, op, id, domain.TaskPatch{Section: &section})
}

// ReorderSection gives the listed tasks descending sortOrder values so they
// display in the given order.
func (c *Commander) ReorderSection(ctx context.Context, section domain.Section, ids []string) []*Operation {
	if !section.Valid() {
		op := newOperation("reorderSection", "")
		return []*Operation{op.reject(&domain.ValidationError{Field: "section", Reason: "unknown section " + string(section)})}
	}
	base := float64(c.now().UnixMilli())
	ops := make([]*Operation, 0, len(ids))
	for i, id := range ids {
		op := newOperation("reorderSection", id)
		cur, ok := c.tasks.GetByID(id)
		if !ok || cur.Section != section {
			ops = append(ops, op.reject(&domain.NotFoundError{Kind: "task", ID: id}))
			continue
		}
		order := base + float64(len(ids)-i)
		ops = append(ops, c.update(ctx, op, id, domain.TaskPatch{SortOrder: &order}))
	}
	return ops
}

func (c *Commander) update(ctx context.Context, op *Operation, id string, p domain.TaskPatch) *Operation {
	m, err := c.tasks.ApplyOptimistic(id, p)
	if err != nil {
		return op.reject(err)
	}
	op.applied(m.TaskID)
	return c.dispatch(ctx, op, c.tasks.ShardKey(m.TaskID), func(ctx context.Context) error {
		target := c.tasks.Resolve(m.TaskID)
		if !c.tasks.Known(target) {
			return &domain.NotFoundError{Kind: "task", ID: target}
		}
		op.setID(target)
		return c.store.UpdateTask(ctx, c.userID, target, p)
	}, outcome{
		confirm:  func() { c.tasks.Confirm(m) },
		notFound: func() { c.tasks.Remove(m.TaskID) },
		revert:   func() { c.tasks.Revert(m) },
	})
}

// DeleteTask hides the task at once and removes it when the delete is stored.
func (c *Commander) DeleteTask(ctx context.Context, id string) *Operation {
	op := newOperation("deleteTask", id)
	key := c.tasks.ShardKey(id)
	m, err := c.tasks.Hide(id)
	if err != nil {
		return op.reject(err)
	}
	op.applied(m.TaskID)
	return c.dispatch(ctx, op, key, func(ctx context.Context) error {
		target := c.tasks.Resolve(m.TaskID)
		op.setID(target)
		if isTemp(target) {
			return &domain.NotFoundError{Kind: "task", ID: target}
		}
		return c.store.DeleteTask(ctx, c.userID, target)
	}, outcome{
		confirm:  func() { c.tasks.Remove(m.TaskID) },
		notFound: func() { c.tasks.Remove(m.TaskID) },
		revert:   func() { c.tasks.Revert(m) },
	})
}

// CreateProject appends the project optimistically with a local createdAt.
func (c *Commander) CreateProject(ctx context.Context, in domain.NewProject) *Operation {
	op := newOperation("createProject", "")
	if err := in.Validate(); err != nil {
		return op.reject(err)
	}
	tmpID := TempIDPrefix + uuid.NewString()
	p := domain.Project{ID: tmpID, Name: in.Name, UserID: c.userID, CreatedAt: c.now()}
	c.projects.Insert(p)
	op.applied(tmpID)

	return c.dispatch(ctx, op, tmpID, func(ctx context.Context) error {
		remote := p
		remote.ID = ""
		id, err := c.store.CreateProject(ctx, remote)
		if err != nil {
			return err
		}
		c.projects.ConfirmCreate(tmpID, id)
		op.setID(id)
		return nil
	}, outcome{
		confirm:  func() {},
		notFound: func() { c.projects.Remove(tmpID) },
		revert:   func() { c.projects.Remove(tmpID) },
	})
}

// DeleteProject removes the project. Tasks keep their projectId and show up
// as orphans in project views.
func (c *Commander) DeleteProject(ctx context.Context, id string) *Operation {
	op := newOperation("deleteProject", id)
	key := c.projects.ShardKey(id)
	if !c.projects.Hide(id) {
		return op.reject(&domain.NotFoundError{Kind: "project", ID: id})
	}
	op.applied(id)
	return c.dispatch(ctx, op, key, func(ctx context.Context) error {
		target := c.projects.Resolve(id)
		op.setID(target)
		if isTemp(target) {
			return &domain.NotFoundError{Kind: "project", ID: target}
		}
		return c.store.DeleteProject(ctx, c.userID, target)
	}, outcome{
		confirm:  func() { c.projects.Remove(id) },
		notFound: func() { c.projects.Remove(id) },
		revert:   func() { c.projects.Unhide(id) },
	})
}

// CreateCategory stores a user defined category.
func (c *Commander) CreateCategory(ctx context.Context, cat domain.Category) *Operation {
	op := newOperation("createCategory", "")
	if err := cat.Validate(); err != nil {
		return op.reject(err)
	}
	cat.ID = "cat_" + uuid.NewString()
	cat.UserID = c.userID
	cat.IsDefault = false
	c.categories.Add(cat)
	op.applied(cat.ID)

	return c.dispatch(ctx, op, cat.ID, func(ctx context.Context) error {
		return c.store.CreateCategories(ctx, []domain.Category{cat})
	}, outcome{
		confirm:  func() {},
		notFound: func() { c.categories.Remove(cat.ID) },
		revert:   func() { c.categories.Remove(cat.ID) },
	})
}

// UpdateSettings patches the user's settings. The full result is saved, and
// a failed save restores the previous settings unless a newer change landed.
func (c *Commander) UpdateSettings(ctx context.Context, p domain.SettingsPatch) *Operation {
	op := newOperation("updateSettings", c.userID)
	if c.settings == nil {
		return op.reject(&domain.ValidationError{Field: "settings", Reason: "not available"})
	}
	if err := p.Validate(); err != nil {
		return op.reject(err)
	}
	next, prev, rev := c.settings.Apply(p)
	next.UpdatedAt = c.now()
	op.applied(c.userID)

	return c.dispatch(ctx, op, "settings:"+c.userID, func(ctx context.Context) error {
		return c.store.SaveSettings(ctx, next)
	}, outcome{
		confirm:  func() {},
		notFound: func() { c.settings.Revert(prev, rev) },
		revert:   func() { c.settings.Revert(prev, rev) },
	})
}
