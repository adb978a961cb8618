package repository

import (
	"testing"

	"gtdsync/domain"
)

func TestSettingsRepositoryDefaultsAndSet(t *testing.T) {
	r := NewSettingsRepository("u1")
	if got := r.Get(); got != domain.DefaultSettings("u1") {
		t.Fatalf("expected defaults, got %+v", got)
	}

	stored := domain.DefaultSettings("someone-else")
	stored.DefaultPriority = domain.PriorityHigh
	r.Set(&stored)
	if got := r.Get(); got.UserID != "u1" || got.DefaultPriority != domain.PriorityHigh {
		t.Fatalf("unexpected settings %+v", got)
	}

	r.Clear()
	if got := r.Get(); got.DefaultPriority != domain.PriorityMedium {
		t.Fatalf("clear should restore defaults, got %+v", got)
	}
}

func TestSettingsRevertSkipsLaterChange(t *testing.T) {
	r := NewSettingsRepository("u1")
	off, next := false, domain.SectionNext

	_, prev, rev := r.Apply(domain.SettingsPatch{ShowCompletedTasks: &off})
	if !r.Revert(prev, rev) || !r.Get().ShowCompletedTasks {
		t.Fatal("revert should restore the previous value")
	}

	_, prev, rev = r.Apply(domain.SettingsPatch{ShowCompletedTasks: &off})
	r.Apply(domain.SettingsPatch{DefaultSection: &next})
	if r.Revert(prev, rev) {
		t.Fatal("revert must not undo a later change")
	}
	if got := r.Get(); got.ShowCompletedTasks || got.DefaultSection != domain.SectionNext {
		t.Fatalf("unexpected settings %+v", got)
	}
}
