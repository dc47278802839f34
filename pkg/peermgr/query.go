package peermgr

import "github.com/simeonmiteff/gnutella-core/pkg/session"

// Get returns the session for id, if still tracked.
func (m *Manager) Get(id session.ID) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ForEach calls fn for every tracked session other than skip, outside the
// manager's lock, for query-broadcast fan-out.
func (m *Manager) ForEach(skip session.ID, fn func(*session.Session)) {
	m.mu.Lock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		if id == skip {
			continue
		}
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		fn(s)
	}
}
