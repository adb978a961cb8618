package domain

import "time"

// Settings are a user's task preferences. They seed new tasks and decide
// whether completed tasks stay on the today board.
type Settings struct {
	UserID               string    `json:"userId"`
	DefaultSection       Section   `json:"defaultTaskSection"`
	DefaultPriority      int       `json:"defaultPriority"`
	DefaultEstimatedTime int       `json:"defaultEstimatedTime"`
	ShowCompletedTasks   bool      `json:"showCompletedTasks"`
	AutoMoveCompleted    bool      `json:"autoMoveCompleted"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// DefaultSettings are used until the user saves their own.
func DefaultSettings(userID string) Settings {
	return Settings{
		UserID:               userID,
		DefaultSection:       SectionInbox,
		DefaultPriority:      PriorityMedium,
		DefaultEstimatedTime: 30,
		ShowCompletedTasks:   true,
	}
}

// KeepsCompleted reports whether completed tasks remain visible in section.
func (s Settings) KeepsCompleted(section Section) bool {
	return section == SectionToday && s.ShowCompletedTasks && !s.AutoMoveCompleted
}

// SettingsPatch is a partial settings update. Nil fields are left alone.
type SettingsPatch struct {
	DefaultSection       *Section `json:"defaultTaskSection,omitempty"`
	DefaultPriority      *int     `json:"defaultPriority,omitempty"`
	DefaultEstimatedTime *int     `json:"defaultEstimatedTime,omitempty"`
	ShowCompletedTasks   *bool    `json:"showCompletedTasks,omitempty"`
	AutoMoveCompleted    *bool    `json:"autoMoveCompleted,omitempty"`
}

func (p SettingsPatch) Empty() bool {
	return p.DefaultSection == nil && p.DefaultPriority == nil && p.DefaultEstimatedTime == nil &&
		p.ShowCompletedTasks == nil && p.AutoMoveCompleted == nil
}

func (p SettingsPatch) Validate() error {
	if p.Empty() {
		return &ValidationError{Field: "settings", Reason: "no fields to update"}
	}
	if p.DefaultSection != nil && !p.DefaultSection.Valid() {
		return &ValidationError{Field: "defaultTaskSection", Reason: "unknown section " + string(*p.DefaultSection)}
	}
	if p.DefaultPriority != nil && (*p.DefaultPriority < PriorityLowest || *p.DefaultPriority > PriorityHighest) {
		return &ValidationError{Field: "defaultPriority", Reason: "must be between 1 and 5"}
	}
	if p.DefaultEstimatedTime != nil && *p.DefaultEstimatedTime < 0 {
		return &ValidationError{Field: "defaultEstimatedTime", Reason: "must be positive"}
	}
	return nil
}

// Apply writes the set fields onto s.
func (p SettingsPatch) Apply(s *Settings) {
	if p.DefaultSection != nil {
		s.DefaultSection = *p.DefaultSection
	}
	if p.DefaultPriority != nil {
		s.DefaultPriority = *p.DefaultPriority
	}
	if p.DefaultEstimatedTime != nil {
		s.DefaultEstimatedTime = *p.DefaultEstimatedTime
	}
	if p.ShowCompletedTasks != nil {
		s.ShowCompletedTasks = *p.ShowCompletedTasks
	}
	if p.AutoMoveCompleted != nil {
		s.AutoMoveCompleted = *p.AutoMoveCompleted
	}
}

// ApplyDefaults fills the unset section, priority and estimate of n from s.
// Validate still falls back to inbox and medium priority afterwards.
func (n *NewTask) ApplyDefaults(s Settings) {
	if n.Section == "" {
		n.Section = s.DefaultSection
	}
	if n.Priority == 0 {
		n.Priority = s.DefaultPriority
	}
	if n.EstimatedTime == 0 {
		n.EstimatedTime = s.DefaultEstimatedTime
	}
}
