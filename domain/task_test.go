package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewTaskValidateDefaults(t *testing.T) {
	n := NewTask{Title: "  Buy milk "}
	if err := n.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if n.Title != "Buy milk" || n.Section != SectionInbox || n.Priority != PriorityMedium {
		t.Fatalf("unexpected defaults %+v", n)
	}
}

func TestNewTaskValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		in    NewTask
		field string
	}{
		{"blank title", NewTask{Title: "   "}, "title"},
		{"bad section", NewTask{Title: "x", Section: "bogus"}, "section"},
		{"bad priority", NewTask{Title: "x", Priority: 9}, "priority"},
		{"negative estimate", NewTask{Title: "x", EstimatedTime: -5}, "estimatedTime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("expected field %s, got %s", tt.field, ve.Field)
			}
		})
	}
}

func TestTaskPatchApplyAndFields(t *testing.T) {
	due := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	section := SectionNext
	done := true
	task := Task{ID: "t1", Section: SectionInbox, DueDate: &due, ProjectID: "p1"}
	empty := ""
	p := TaskPatch{Section: &section, Completed: &done, ClearDueDate: true, ProjectID: &empty}
	fields := p.Fields()
	if len(fields) != 4 {
		t.Fatalf("expected 4 fields, got %v", fields)
	}
	p.Apply(&task)
	if task.Section != SectionNext || !task.Completed || task.DueDate != nil || task.ProjectID != "" {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestTaskPatchValidate(t *testing.T) {
	if err := (&TaskPatch{}).Validate(); !IsValidation(err) {
		t.Fatalf("expected validation error for empty patch, got %v", err)
	}
	blank := " "
	if err := (&TaskPatch{Title: &blank}).Validate(); !IsValidation(err) {
		t.Fatalf("expected validation error for blank title, got %v", err)
	}
	bogus := Section("bogus")
	if err := (&TaskPatch{Section: &bogus}).Validate(); !IsValidation(err) {
		t.Fatalf("expected validation error for bad section, got %v", err)
	}
}

func TestCloneDetachesDueDate(t *testing.T) {
	due := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a := Task{DueDate: &due}
	b := a.Clone()
	*b.DueDate = b.DueDate.Add(time.Hour)
	if !a.DueDate.Equal(due) {
		t.Fatalf("clone shares due date pointer")
	}
}
