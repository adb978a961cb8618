package domain

import (
	"strings"
	"time"
)

// Field names a mutable task attribute.
type Field string

const (
	FieldTitle         Field = "title"
	FieldDescription   Field = "description"
	FieldSection       Field = "section"
	FieldProjectID     Field = "projectId"
	FieldCategory      Field = "category"
	FieldPriority      Field = "priority"
	FieldEstimatedTime Field = "estimatedTime"
	FieldCompleted     Field = "completed"
	FieldDueDate       Field = "dueDate"
	FieldSortOrder     Field = "sortOrder"
)

// TaskPatch is a partial update. Nil fields are left untouched; an empty
// ProjectID or Category detaches the reference and ClearDueDate removes the
// due date.
type TaskPatch struct {
	Title         *string    `json:"title,omitempty"`
	Description   *string    `json:"description,omitempty"`
	Section       *Section   `json:"section,omitempty"`
	ProjectID     *string    `json:"projectId,omitempty"`
	Category      *string    `json:"category,omitempty"`
	Priority      *int       `json:"priority,omitempty"`
	EstimatedTime *int       `json:"estimatedTime,omitempty"`
	Completed     *bool      `json:"completed,omitempty"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	ClearDueDate  bool       `json:"clearDueDate,omitempty"`
	SortOrder     *float64   `json:"sortOrder,omitempty"`
}

// Fields lists the attributes the patch touches.
func (p TaskPatch) Fields() []Field {
	var out []Field
	if p.Title != nil {
		out = append(out, FieldTitle)
	}
	if p.Description != nil {
		out = append(out, FieldDescription)
	}
	if p.Section != nil {
		out = append(out, FieldSection)
	}
	if p.ProjectID != nil {
		out = append(out, FieldProjectID)
	}
	if p.Category != nil {
		out = append(out, FieldCategory)
	}
	if p.Priority != nil {
		out = append(out, FieldPriority)
	}
	if p.EstimatedTime != nil {
		out = append(out, FieldEstimatedTime)
	}
	if p.Completed != nil {
		out = append(out, FieldCompleted)
	}
	if p.DueDate != nil || p.ClearDueDate {
		out = append(out, FieldDueDate)
	}
	if p.SortOrder != nil {
		out = append(out, FieldSortOrder)
	}
	return out
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool { return len(p.Fields()) == 0 }

// Validate rejects malformed updates before anything is applied.
func (p *TaskPatch) Validate() error {
	if p.Empty() {
		return &ValidationError{Field: "updates", Reason: "no fields to update"}
	}
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return &ValidationError{Field: "title", Reason: "must not be blank"}
		}
		p.Title = &title
	}
	if p.Section != nil && !p.Section.Valid() {
		return &ValidationError{Field: "section", Reason: "unknown section " + string(*p.Section)}
	}
	if p.Priority != nil && (*p.Priority < PriorityLowest || *p.Priority > PriorityHighest) {
		return &ValidationError{Field: "priority", Reason: "must be between 1 and 5"}
	}
	if p.EstimatedTime != nil && *p.EstimatedTime < 0 {
		return &ValidationError{Field: "estimatedTime", Reason: "must be positive"}
	}
	if p.DueDate != nil && p.ClearDueDate {
		return &ValidationError{Field: "dueDate", Reason: "cannot set and clear at once"}
	}
	return nil
}

// Apply writes the patched fields into t.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Section != nil {
		t.Section = *p.Section
	}
	if p.ProjectID != nil {
		t.ProjectID = *p.ProjectID
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.EstimatedTime != nil {
		t.EstimatedTime = *p.EstimatedTime
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.ClearDueDate {
		t.DueDate = nil
	}
	if p.SortOrder != nil {
		t.SortOrder = *p.SortOrder
	}
}

// Only returns the subset of p restricted to field f.
func (p TaskPatch) Only(f Field) TaskPatch {
	var out TaskPatch
	switch f {
	case FieldTitle:
		out.Title = p.Title
	case FieldDescription:
		out.Description = p.Description
	case FieldSection:
		out.Section = p.Section
	case FieldProjectID:
		out.ProjectID = p.ProjectID
	case FieldCategory:
		out.Category = p.Category
	case FieldPriority:
		out.Priority = p.Priority
	case FieldEstimatedTime:
		out.EstimatedTime = p.EstimatedTime
	case FieldCompleted:
		out.Completed = p.Completed
	case FieldDueDate:
		out.DueDate = p.DueDate
		out.ClearDueDate = p.ClearDueDate
	case FieldSortOrder:
		out.SortOrder = p.SortOrder
	}
	return out
}

// SameField reports whether a and b carry the same value for f.
func SameField(a, b Task, f Field) bool {
	switch f {
	case FieldTitle:
		return a.Title == b.Title
	case FieldDescription:
		return a.Description == b.Description
	case FieldSection:
		return a.Section == b.Section
	case FieldProjectID:
		return a.ProjectID == b.ProjectID
	case FieldCategory:
		return a.Category == b.Category
	case FieldPriority:
		return a.Priority == b.Priority
	case FieldEstimatedTime:
		return a.EstimatedTime == b.EstimatedTime
	case FieldCompleted:
		return a.Completed == b.Completed
	case FieldDueDate:
		if a.DueDate == nil || b.DueDate == nil {
			return a.DueDate == nil && b.DueDate == nil
		}
		return a.DueDate.Equal(*b.DueDate)
	case FieldSortOrder:
		return a.SortOrder == b.SortOrder
	}
	return false
}
