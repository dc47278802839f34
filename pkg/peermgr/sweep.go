package peermgr

import (
	"time"

	"github.com/simeonmiteff/gnutella-core/pkg/session"
)

// ActionKind names a side effect the sweep wants the caller (the event
// loop that owns the actual sockets) to perform. The manager itself never
// touches a net.Conn directly.
type ActionKind int

const (
	ActionNone ActionKind = iota
	// ActionSendPing asks the caller to send an alive ping on a quiet
	// session.
	ActionSendPing
	// ActionSendBye asks the caller to queue a bye with the given reason
	// and move the session to StateShutdown.
	ActionSendBye
	// ActionFinalizeRemoval asks the caller to tear down a session's
	// resources: its TX has drained, or its shutdown grace expired.
	ActionFinalizeRemoval
)

// Action is one instruction produced by a sweep.
type Action struct {
	Kind    ActionKind
	Session session.ID
	Reason  string
}

// Sweep runs the per-second timer: for each connected session it checks
// activity timeouts and, for sessions already shutting down, whether their
// TX has drained or their grace period has expired.
func (m *Manager) Sweep(now time.Time) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	var actions []Action
	for id, s := range m.sessions {
		switch s.State {
		case session.StateShutdown:
			drained := s.Queue == nil || !s.Queue.Pending()
			if drained {
				actions = append(actions, Action{Kind: ActionFinalizeRemoval, Session: id, Reason: "tx drained"})
			} else if s.TimeInState() >= m.cfg.ByeGraceTimeout {
				actions = append(actions, Action{Kind: ActionFinalizeRemoval, Session: id, Reason: "shutdown grace expired"})
			}
		case session.StateConnected:
			if s.Link == nil {
				continue
			}
			idle := time.Duration(s.Link.IdleFor())
			switch {
			case idle >= m.cfg.ActivityTimeout:
				actions = append(actions, Action{Kind: ActionSendBye, Session: id, Reason: "activity timeout"})
			case idle >= m.cfg.ActivityTimeout/2:
				actions = append(actions, Action{Kind: ActionSendPing, Session: id})
			}
		}
	}
	return actions
}

// ErrorCounterCleanup drops every banned-vendor entry whose ban has expired
// by now, matching the minute-scale cleanup timer.
func (m *Manager) ErrorCounterCleanup(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for family, until := range m.bannedVendors {
		if !now.Before(until) {
			delete(m.bannedVendors, family)
		}
	}
}
