package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"gtdsync/domain"
	"gtdsync/session"
)

type managedSession struct {
	ready    chan struct{}
	sess     *session.Session
	err      error
	lastUsed time.Time
	attached int
}

// SessionManager keeps one live session per signed-in user. Sessions are
// opened on first use and closed on sign-out or after sitting idle.
type SessionManager struct {
	store domain.RemoteStore
	opts  session.Options
	idle  time.Duration
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]*managedSession
}

func NewSessionManager(store domain.RemoteStore, opts session.Options, idle time.Duration) *SessionManager {
	return &SessionManager{
		store:    store,
		opts:     opts,
		idle:     idle,
		now:      time.Now,
		sessions: make(map[string]*managedSession),
	}
}

// Get returns the session for id, opening it if needed. Concurrent callers
// for the same user share a single open.
func (m *SessionManager) Get(ctx context.Context, id domain.Identity) (*session.Session, error) {
	m.mu.Lock()
	ms, ok := m.sessions[id.UID]
	if !ok {
		ms = &managedSession{ready: make(chan struct{})}
		m.sessions[id.UID] = ms
	}
	ms.lastUsed = m.now()
	m.mu.Unlock()

	if !ok {
		ms.sess, ms.err = session.Open(context.WithoutCancel(ctx), id, m.store, m.opts)
		if ms.err != nil {
			m.mu.Lock()
			if m.sessions[id.UID] == ms {
				delete(m.sessions, id.UID)
			}
			m.mu.Unlock()
		}
		close(ms.ready)
	}

	select {
	case <-ms.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return ms.sess, ms.err
}

// Attach holds s open while a long-lived client such as a stream uses it.
// An attached session is never evicted as idle; release ends the hold and
// counts as a use. ok is false when s is no longer the user's live session.
func (m *SessionManager) Attach(s *session.Session) (release func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, found := m.sessions[s.Identity.UID]
	if !found || ms.sess != s {
		return nil, false
	}
	ms.attached++
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			ms.attached--
			ms.lastUsed = m.now()
			m.mu.Unlock()
		})
	}, true
}

// SignOut closes the user's session. It reports whether one was open.
func (m *SessionManager) SignOut(uid string) bool {
	m.mu.Lock()
	ms, ok := m.sessions[uid]
	delete(m.sessions, uid)
	m.mu.Unlock()
	if !ok {
		return false
	}
	<-ms.ready
	if ms.sess != nil {
		ms.sess.Close()
	}
	return ms.sess != nil
}

// Run evicts idle sessions until ctx is done, then closes the rest.
func (m *SessionManager) Run(ctx context.Context) {
	defer m.CloseAll()
	if m.idle <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(m.idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *SessionManager) evictIdle() {
	cutoff := m.now().Add(-m.idle)
	stale := make(map[string]*managedSession)
	m.mu.Lock()
	for uid, ms := range m.sessions {
		if ms.attached == 0 && ms.lastUsed.Before(cutoff) {
			stale[uid] = ms
			delete(m.sessions, uid)
		}
	}
	m.mu.Unlock()
	for uid, ms := range stale {
		<-ms.ready
		if ms.sess != nil {
			ms.sess.Close()
			log.WithField("user", uid).Debug("idle session closed")
		}
	}
}

// CloseAll signs every user out.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	uids := make([]string, 0, len(m.sessions))
	for uid := range m.sessions {
		uids = append(uids, uid)
	}
	m.mu.Unlock()
	for _, uid := range uids {
		m.SignOut(uid)
	}
}
