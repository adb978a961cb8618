package domain

import (
	"strings"
	"time"
)

// Section is one of the four GTD buckets a task lives in.
type Section string

const (
	SectionInbox   Section = "inbox"
	SectionToday   Section = "today"
	SectionNext    Section = "next"
	SectionSomeday Section = "someday"
)

// Sections lists every valid section in board order.
var Sections = []Section{SectionInbox, SectionToday, SectionNext, SectionSomeday}

// Valid reports whether s is one of the four section identifiers.
func (s Section) Valid() bool {
	switch s {
	case SectionInbox, SectionToday, SectionNext, SectionSomeday:
		return true
	}
	return false
}

const (
	PriorityLowest  = 1
	PriorityLow     = 2
	PriorityMedium  = 3
	PriorityHigh    = 4
	PriorityHighest = 5
)

// Task is a single unit of work owned by one user.
type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Section       Section    `json:"section"`
	ProjectID     string     `json:"projectId,omitempty"`
	Category      string     `json:"category,omitempty"`
	Priority      int        `json:"priority"`
	EstimatedTime int        `json:"estimatedTime,omitempty"`
	Completed     bool       `json:"completed"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	SortOrder     float64    `json:"sortOrder"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	UserID        string     `json:"userId"`
}

// Clone returns a copy that shares no pointers with t.
func (t Task) Clone() Task {
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	return t
}

// NewTask carries the user supplied fields of a task to create.
type NewTask struct {
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Section       Section    `json:"section,omitempty"`
	ProjectID     string     `json:"projectId,omitempty"`
	Category      string     `json:"category,omitempty"`
	Priority      int        `json:"priority,omitempty"`
	EstimatedTime int        `json:"estimatedTime,omitempty"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
}

// Validate checks the input and fills defaults for section and priority.
func (n *NewTask) Validate() error {
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be blank"}
	}
	if n.Section == "" {
		n.Section = SectionInbox
	}
	if !n.Section.Valid() {
		return &ValidationError{Field: "section", Reason: "unknown section " + string(n.Section)}
	}
	if n.Priority == 0 {
		n.Priority = PriorityMedium
	}
	if n.Priority < PriorityLowest || n.Priority > PriorityHighest {
		return &ValidationError{Field: "priority", Reason: "must be between 1 and 5"}
	}
	if n.EstimatedTime < 0 {
		return &ValidationError{Field: "estimatedTime", Reason: "must be positive"}
	}
	return nil
}

// Task materialises the input into a task owned by userID.
func (n NewTask) Task(id, userID string, now time.Time) Task {
	t := Task{
		ID:            id,
		Title:         n.Title,
		Description:   n.Description,
		Section:       n.Section,
		ProjectID:     n.ProjectID,
		Category:      n.Category,
		Priority:      n.Priority,
		EstimatedTime: n.EstimatedTime,
		SortOrder:     float64(now.UnixMilli()),
		CreatedAt:     now,
		UpdatedAt:     now,
		UserID:        userID,
	}
	if n.DueDate != nil {
		d := *n.DueDate
		t.DueDate = &d
	}
	return t
}
