package repository

import (
	"sync"

	"gtdsync/domain"
)

// SettingsRepository holds the user's settings, defaulting until loaded.
type SettingsRepository struct {
	mu     sync.RWMutex
	userID string
	cur    domain.Settings
	rev    uint64
	broker *broker
}

func NewSettingsRepository(userID string) *SettingsRepository {
	return &SettingsRepository{userID: userID, cur: domain.DefaultSettings(userID), broker: newBroker()}
}

// Watch returns a channel signalled after every change and a func to stop.
func (r *SettingsRepository) Watch() (<-chan struct{}, func()) { return r.broker.subscribe() }

// Set replaces the settings with a stored copy. A nil value keeps defaults.
func (r *SettingsRepository) Set(s *domain.Settings) {
	r.mu.Lock()
	if s == nil {
		r.cur = domain.DefaultSettings(r.userID)
	} else {
		r.cur = *s
		r.cur.UserID = r.userID
	}
	r.rev++
	r.mu.Unlock()
	r.broker.notify()
}

func (r *SettingsRepository) Get() domain.Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur
}

// Apply patches the settings optimistically. It returns the new value to
// persist, the previous value and the revision Revert needs.
func (r *SettingsRepository) Apply(p domain.SettingsPatch) (next, prev domain.Settings, rev uint64) {
	r.mu.Lock()
	prev = r.cur
	p.Apply(&r.cur)
	r.rev++
	next, rev = r.cur, r.rev
	r.mu.Unlock()
	r.broker.notify()
	return next, prev, rev
}

// Revert restores prev unless another change landed after rev.
func (r *SettingsRepository) Revert(prev domain.Settings, rev uint64) bool {
	r.mu.Lock()
	if r.rev != rev {
		r.mu.Unlock()
		return false
	}
	r.cur = prev
	r.rev++
	r.mu.Unlock()
	r.broker.notify()
	return true
}

func (r *SettingsRepository) Clear() { r.Set(nil) }
