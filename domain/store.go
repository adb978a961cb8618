package domain

import "context"

// Subscription is a started live snapshot stream.
type Subscription interface {
	Stop()
}

// SnapshotHandler receives ordered full-collection snapshots of T.
type SnapshotHandler[T any] func([]T)

// TaskStore is the remote document store for tasks. All calls are scoped by
// the userId carried on the task or passed explicitly.
type TaskStore interface {
	CreateTask(ctx context.Context, t Task) (string, error)
	UpdateTask(ctx context.Context, userID, id string, p TaskPatch) error
	DeleteTask(ctx context.Context, userID, id string) error
	SubscribeToUserTasks(ctx context.Context, userID string, onSnapshot SnapshotHandler[Task], onError func(error)) (Subscription, error)
}

// ProjectStore is the remote document store for projects.
type ProjectStore interface {
	CreateProject(ctx context.Context, p Project) (string, error)
	DeleteProject(ctx context.Context, userID, id string) error
	SubscribeToUserProjects(ctx context.Context, userID string, onSnapshot SnapshotHandler[Project], onError func(error)) (Subscription, error)
}

// CategoryStore is the remote document store for categories.
type CategoryStore interface {
	ListCategories(ctx context.Context, userID string) ([]Category, error)
	CreateCategories(ctx context.Context, cs []Category) error
}

// SettingsStore keeps one settings document per user. GetSettings returns
// nil and no error when the user has never saved any.
type SettingsStore interface {
	GetSettings(ctx context.Context, userID string) (*Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
}

// RemoteStore is the full adapter consumed by a session.
type RemoteStore interface {
	TaskStore
	ProjectStore
	CategoryStore
	SettingsStore
}
