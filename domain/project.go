package domain

import (
	"strings"
	"time"
)

// Project groups tasks by a weak projectId reference.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewProject carries the user supplied fields of a project to create.
type NewProject struct {
	Name string `json:"name"`
}

func (n *NewProject) Validate() error {
	n.Name = strings.TrimSpace(n.Name)
	if n.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be blank"}
	}
	return nil
}

// Category is a colored label referenced by tasks.
type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	Icon      string `json:"icon,omitempty"`
	IsDefault bool   `json:"isDefault"`
	UserID    string `json:"userId"`
}

func (c *Category) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be blank"}
	}
	if c.Color == "" {
		return &ValidationError{Field: "color", Reason: "must not be empty"}
	}
	return nil
}

// DefaultCategories are seeded for users that have none yet.
func DefaultCategories(userID string) []Category {
	defaults := []Category{
		{ID: "cat_animation", Name: "Animation", Color: "#E74C3C", Icon: "movie"},
		{ID: "cat_programming", Name: "Programming", Color: "#2ECC71", Icon: "code"},
		{ID: "cat_theory", Name: "Theory", Color: "#3498DB", Icon: "book"},
		{ID: "cat_personal", Name: "Personal", Color: "#9B59B6", Icon: "person"},
		{ID: "cat_work", Name: "Work", Color: "#F39C12", Icon: "work"},
	}
	for i := range defaults {
		defaults[i].IsDefault = true
		defaults[i].UserID = userID
	}
	return defaults
}

// Identity is the signed-in user as supplied by the identity provider.
type Identity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}
