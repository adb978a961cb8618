package domain

import (
	"math"
	"sort"
	"strings"
	"time"
)

// FilterBySection returns the tasks shown on a section board under the
// default settings: completed tasks stay visible in today and are hidden
// everywhere else.
func FilterBySection(tasks []Task, section Section) []Task {
	return FilterBySectionWith(tasks, section, DefaultSettings(""))
}

// FilterBySectionWith is FilterBySection honouring the user's completed task
// preferences.
func FilterBySectionWith(tasks []Task, section Section, s Settings) []Task {
	keep := s.KeepsCompleted(section)
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Section != section {
			continue
		}
		if t.Completed && !keep {
			continue
		}
		out = append(out, t)
	}
	return out
}

// FilterByProject returns every task referencing projectID.
func FilterByProject(tasks []Task, projectID string) []Task {
	out := make([]Task, 0)
	for _, t := range tasks {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	return out
}

// FilterByCategory returns every task labelled with category.
func FilterByCategory(tasks []Task, category string) []Task {
	out := make([]Task, 0)
	for _, t := range tasks {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}

// Progress is the integer percentage of completed tasks, 0 for no tasks.
func Progress(tasks []Task) int {
	if len(tasks) == 0 {
		return 0
	}
	done := 0
	for _, t := range tasks {
		if t.Completed {
			done++
		}
	}
	return int(math.Round(float64(done) / float64(len(tasks)) * 100))
}

// ProjectProgress aggregates estimated time into hours.
type ProjectProgress struct {
	CompletedHours float64 `json:"completedHours"`
	TotalHours     float64 `json:"totalHours"`
	Percentage     float64 `json:"percentage"`
}

// ComputeProjectProgress sums estimatedTime of tasks, all and completed only.
func ComputeProjectProgress(tasks []Task) ProjectProgress {
	var total, completed int
	for _, t := range tasks {
		total += t.EstimatedTime
		if t.Completed {
			completed += t.EstimatedTime
		}
	}
	p := ProjectProgress{
		CompletedHours: float64(completed) / 60,
		TotalHours:     float64(total) / 60,
	}
	if p.TotalHours > 0 {
		p.Percentage = p.CompletedHours / p.TotalHours * 100
	}
	return p
}

// TaskFilter is a conjunction of optional predicates. Zero values match all.
type TaskFilter struct {
	Section   Section `json:"section,omitempty"`
	Category  string  `json:"category,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
	Query     string  `json:"searchQuery,omitempty"`
}

func (f TaskFilter) match(t Task, query string) bool {
	if f.Section != "" && t.Section != f.Section {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}
	if query != "" &&
		!strings.Contains(strings.ToLower(t.Title), query) &&
		!strings.Contains(strings.ToLower(t.Description), query) {
		return false
	}
	return true
}

// FilteredTasks applies f and returns the matches in display order.
func FilteredTasks(tasks []Task, f TaskFilter) []Task {
	query := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if f.match(t, query) {
			out = append(out, t)
		}
	}
	SortTasks(out)
	return out
}

// SortTasks orders by sortOrder descending, then createdAt descending.
func SortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].SortOrder != tasks[j].SortOrder {
			return tasks[i].SortOrder > tasks[j].SortOrder
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

// Overdue returns open tasks whose due date is before now.
func Overdue(tasks []Task, now time.Time) []Task {
	out := make([]Task, 0)
	for _, t := range tasks {
		if t.DueDate != nil && !t.Completed && t.DueDate.Before(now) {
			out = append(out, t)
		}
	}
	return out
}

// DueToday returns open tasks due within the calendar day of now.
func DueToday(tasks []Task, now time.Time) []Task {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, 1)
	out := make([]Task, 0)
	for _, t := range tasks {
		if t.DueDate == nil || t.Completed {
			continue
		}
		if !t.DueDate.Before(start) && t.DueDate.Before(end) {
			out = append(out, t)
		}
	}
	return out
}
