package storage

import (
	"time"

	"gtdsync/domain"
)

// Entity represents base table entity keys. PartitionKey is always the owning
// user id.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

const (
	EdmInt32   = "Edm.Int32"
	EdmInt64   = "Edm.Int64"
	EdmDouble  = "Edm.Double"
	EdmBoolean = "Edm.Boolean"
)

// taskEntity is the stored form of a task. Times are unix milliseconds; a
// DueDate of zero means no due date.
type taskEntity struct {
	Entity
	Title             string  `json:"Title"`
	Description       string  `json:"Description,omitempty"`
	Section           string  `json:"Section"`
	ProjectID         string  `json:"ProjectId,omitempty"`
	Category          string  `json:"Category,omitempty"`
	Priority          int     `json:"Priority"`
	PriorityType      string  `json:"Priority@odata.type,omitempty"`
	EstimatedTime     int     `json:"EstimatedTime"`
	EstimatedTimeType string  `json:"EstimatedTime@odata.type,omitempty"`
	Completed         bool    `json:"Completed"`
	CompletedType     string  `json:"Completed@odata.type,omitempty"`
	DueDate           int64   `json:"DueDate,string"`
	DueDateType       string  `json:"DueDate@odata.type,omitempty"`
	SortOrder         float64 `json:"SortOrder"`
	SortOrderType     string  `json:"SortOrder@odata.type,omitempty"`
	CreatedAt         int64   `json:"CreatedAt,string"`
	CreatedAtType     string  `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt         int64   `json:"UpdatedAt,string"`
	UpdatedAtType     string  `json:"UpdatedAt@odata.type,omitempty"`
}

// taskUpdate carries a merge of the changed task properties.
type taskUpdate struct {
	Entity
	Title             *string  `json:"Title,omitempty"`
	Description       *string  `json:"Description,omitempty"`
	Section           *string  `json:"Section,omitempty"`
	ProjectID         *string  `json:"ProjectId,omitempty"`
	Category          *string  `json:"Category,omitempty"`
	Priority          *int     `json:"Priority,omitempty"`
	PriorityType      *string  `json:"Priority@odata.type,omitempty"`
	EstimatedTime     *int     `json:"EstimatedTime,omitempty"`
	EstimatedTimeType *string  `json:"EstimatedTime@odata.type,omitempty"`
	Completed         *bool    `json:"Completed,omitempty"`
	CompletedType     *string  `json:"Completed@odata.type,omitempty"`
	DueDate           *int64   `json:"DueDate,omitempty,string"`
	DueDateType       *string  `json:"DueDate@odata.type,omitempty"`
	SortOrder         *float64 `json:"SortOrder,omitempty"`
	SortOrderType     *string  `json:"SortOrder@odata.type,omitempty"`
	UpdatedAt         int64    `json:"UpdatedAt,string"`
	UpdatedAtType     string   `json:"UpdatedAt@odata.type"`
}

type projectEntity struct {
	Entity
	Name          string `json:"Name"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
}

type categoryEntity struct {
	Entity
	Name          string `json:"Name"`
	Color         string `json:"Color"`
	Icon          string `json:"Icon,omitempty"`
	IsDefault     bool   `json:"IsDefault"`
	IsDefaultType string `json:"IsDefault@odata.type,omitempty"`
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func newTaskEntity(t domain.Task) taskEntity {
	ent := taskEntity{
		Entity:            Entity{PartitionKey: t.UserID, RowKey: t.ID},
		Title:             t.Title,
		Description:       t.Description,
		Section:           string(t.Section),
		ProjectID:         t.ProjectID,
		Category:          t.Category,
		Priority:          t.Priority,
		PriorityType:      EdmInt32,
		EstimatedTime:     t.EstimatedTime,
		EstimatedTimeType: EdmInt32,
		Completed:         t.Completed,
		CompletedType:     EdmBoolean,
		DueDateType:       EdmInt64,
		SortOrder:         t.SortOrder,
		SortOrderType:     EdmDouble,
		CreatedAt:         millis(t.CreatedAt),
		CreatedAtType:     EdmInt64,
		UpdatedAt:         millis(t.UpdatedAt),
		UpdatedAtType:     EdmInt64,
	}
	if t.DueDate != nil {
		ent.DueDate = millis(*t.DueDate)
	}
	return ent
}

func (e taskEntity) task() domain.Task {
	t := domain.Task{
		ID:            e.RowKey,
		UserID:        e.PartitionKey,
		Title:         e.Title,
		Description:   e.Description,
		Section:       domain.Section(e.Section),
		ProjectID:     e.ProjectID,
		Category:      e.Category,
		Priority:      e.Priority,
		EstimatedTime: e.EstimatedTime,
		Completed:     e.Completed,
		SortOrder:     e.SortOrder,
		CreatedAt:     fromMillis(e.CreatedAt),
		UpdatedAt:     fromMillis(e.UpdatedAt),
	}
	if e.DueDate != 0 {
		d := fromMillis(e.DueDate)
		t.DueDate = &d
	}
	return t
}

func newTaskUpdate(userID, id string, p domain.TaskPatch, now time.Time) taskUpdate {
	upd := taskUpdate{
		Entity:        Entity{PartitionKey: userID, RowKey: id},
		Title:         p.Title,
		Description:   p.Description,
		ProjectID:     p.ProjectID,
		Category:      p.Category,
		UpdatedAt:     millis(now),
		UpdatedAtType: EdmInt64,
	}
	if p.Section != nil {
		s := string(*p.Section)
		upd.Section = &s
	}
	if p.Priority != nil {
		t := EdmInt32
		upd.Priority, upd.PriorityType = p.Priority, &t
	}
	if p.EstimatedTime != nil {
		t := EdmInt32
		upd.EstimatedTime, upd.EstimatedTimeType = p.EstimatedTime, &t
	}
	if p.Completed != nil {
		t := EdmBoolean
		upd.Completed, upd.CompletedType = p.Completed, &t
	}
	if p.SortOrder != nil {
		t := EdmDouble
		upd.SortOrder, upd.SortOrderType = p.SortOrder, &t
	}
	if p.DueDate != nil || p.ClearDueDate {
		var ms int64
		if p.DueDate != nil {
			ms = millis(*p.DueDate)
		}
		t := EdmInt64
		upd.DueDate, upd.DueDateType = &ms, &t
	}
	return upd
}

func newProjectEntity(p domain.Project) projectEntity {
	return projectEntity{
		Entity:        Entity{PartitionKey: p.UserID, RowKey: p.ID},
		Name:          p.Name,
		CreatedAt:     millis(p.CreatedAt),
		CreatedAtType: EdmInt64,
	}
}

func (e projectEntity) project() domain.Project {
	return domain.Project{ID: e.RowKey, UserID: e.PartitionKey, Name: e.Name, CreatedAt: fromMillis(e.CreatedAt)}
}

func newCategoryEntity(c domain.Category) categoryEntity {
	return categoryEntity{
		Entity:        Entity{PartitionKey: c.UserID, RowKey: c.ID},
		Name:          c.Name,
		Color:         c.Color,
		Icon:          c.Icon,
		IsDefault:     c.IsDefault,
		IsDefaultType: EdmBoolean,
	}
}

func (e categoryEntity) category() domain.Category {
	return domain.Category{ID: e.RowKey, UserID: e.PartitionKey, Name: e.Name, Color: e.Color, Icon: e.Icon, IsDefault: e.IsDefault}
}

// settingsEntity holds one row per user with PartitionKey and RowKey both set
// to the user id.
type settingsEntity struct {
	Entity
	DefaultSection           string `json:"DefaultTaskSection"`
	DefaultPriority          int    `json:"DefaultPriority"`
	DefaultPriorityType      string `json:"DefaultPriority@odata.type,omitempty"`
	DefaultEstimatedTime     int    `json:"DefaultEstimatedTime"`
	DefaultEstimatedTimeType string `json:"DefaultEstimatedTime@odata.type,omitempty"`
	ShowCompletedTasks       bool   `json:"ShowCompletedTasks"`
	ShowCompletedTasksType   string `json:"ShowCompletedTasks@odata.type,omitempty"`
	AutoMoveCompleted        bool   `json:"AutoMoveCompleted"`
	AutoMoveCompletedType    string `json:"AutoMoveCompleted@odata.type,omitempty"`
	UpdatedAt                int64  `json:"UpdatedAt,string"`
	UpdatedAtType            string `json:"UpdatedAt@odata.type,omitempty"`
}

func newSettingsEntity(s domain.Settings) settingsEntity {
	return settingsEntity{
		Entity:                   Entity{PartitionKey: s.UserID, RowKey: s.UserID},
		DefaultSection:           string(s.DefaultSection),
		DefaultPriority:          s.DefaultPriority,
		DefaultPriorityType:      EdmInt32,
		DefaultEstimatedTime:     s.DefaultEstimatedTime,
		DefaultEstimatedTimeType: EdmInt32,
		ShowCompletedTasks:       s.ShowCompletedTasks,
		ShowCompletedTasksType:   EdmBoolean,
		AutoMoveCompleted:        s.AutoMoveCompleted,
		AutoMoveCompletedType:    EdmBoolean,
		UpdatedAt:                millis(s.UpdatedAt),
		UpdatedAtType:            EdmInt64,
	}
}

func (e settingsEntity) settings() domain.Settings {
	return domain.Settings{
		UserID:               e.PartitionKey,
		DefaultSection:       domain.Section(e.DefaultSection),
		DefaultPriority:      e.DefaultPriority,
		DefaultEstimatedTime: e.DefaultEstimatedTime,
		ShowCompletedTasks:   e.ShowCompletedTasks,
		AutoMoveCompleted:    e.AutoMoveCompleted,
		UpdatedAt:            fromMillis(e.UpdatedAt),
	}
}
