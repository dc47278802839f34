package main

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/simeonmiteff/gnutella-core/pkg/corerr"
	"github.com/simeonmiteff/gnutella-core/pkg/peermgr"
	"github.com/simeonmiteff/gnutella-core/pkg/session"
	"github.com/simeonmiteff/gnutella-core/pkg/wire"
)

// Bye codes this core actually sends. The handshake status-code table in
// the wire protocol covers the rest; these are payload codes carried
// inside a bye message, not handshake responses.
const (
	byeCodeOverflow        = 502 // MQ full of non-droppable traffic
	byeCodeTimeout         = 405 // activity timeout / sustained flow-control
	byeCodePeermodeChanged = 203
)

func (s *servent) maintainSweep() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		for _, action := range s.manager.Sweep(s.clock.Now()) {
			s.applyAction(action)
		}
	}
}

func (s *servent) applyAction(action peermgr.Action) {
	peer, ok := s.manager.Get(action.Session)
	if !ok {
		return
	}
	switch action.Kind {
	case peermgr.ActionSendPing:
		s.enqueuePing(peer)
	case peermgr.ActionSendBye:
		s.sendBye(peer, byeCodeTimeout, action.Reason)
		_ = peer.Transition(session.StateShutdown)
	case peermgr.ActionFinalizeRemoval:
		peer.Queue.Halt()
		if peer.Link != nil {
			_ = peer.Link.Close()
		}
		s.manager.Remove(action.Session)
	}
}

func (s *servent) enqueuePing(peer *session.Session) {
	s.putOrDrop(peer, wire.Header{Func: wire.FuncPing, TTL: 1, Muid: newMuid()}, nil, wire.PriorityControl)
}

// putOrDrop enqueues a message and folds whatever the queue dropped or
// evicted in the process into the session's TX-drop counter. An outright
// Overflow (the hard maxsize cap exceeded with no room to make) tears the
// session down with a polite bye rather than leaving it silently stuck.
func (s *servent) putOrDrop(peer *session.Session, h wire.Header, payload []byte, prio wire.Priority) {
	_, err := peer.Queue.Put(h, payload, prio)
	peer.Counters.TXDrops += peer.Queue.DrainDrops()
	if err != nil && corerr.Is(err, corerr.Overflow) {
		s.terminateOverflow(peer, err)
	}
}

// terminateOverflow tears a session down after its outbound queue hit the
// hard maxsize cap with no room to make for non-droppable traffic.
func (s *servent) terminateOverflow(peer *session.Session, cause error) {
	s.log.WithField("session", peer.ID).WithError(cause).Warn("outbound queue overflow")
	s.sendBye(peer, byeCodeOverflow, "send queue overflow")
	_ = peer.Transition(session.StateShutdown)
}

// terminateProtocolViolation tears a session down after a dispatch
// decision flagged one of its messages as a policy violation serious
// enough to warrant a bye rather than a silent drop.
func (s *servent) terminateProtocolViolation(peer *session.Session, code uint16, reason string) {
	s.sendBye(peer, code, reason)
	_ = peer.Transition(session.StateShutdown)
}

// sendBye enqueues a bye with the given code and reason, then shuts the
// queue down so no further application traffic is accepted. The bye is put
// before the shutdown takes effect, since Put refuses all traffic, the
// bye included, once the queue is shut down; if the queue still can't fit
// the bye (its own backlog is over the hard cap), the backlog is cleared
// and the bye retried once.
func (s *servent) sendBye(peer *session.Session, code uint16, reason string) {
	payload := make([]byte, 2+len(reason))
	binary.LittleEndian.PutUint16(payload[0:2], code)
	copy(payload[2:], reason)
	h := wire.Header{Func: wire.FuncBye, TTL: 1, Muid: newMuid()}

	_, err := peer.Queue.Put(h, payload, wire.PriorityControl)
	peer.Counters.TXDrops += peer.Queue.DrainDrops()
	if err != nil {
		peer.Queue.Clear()
		_, err = peer.Queue.Put(h, payload, wire.PriorityControl)
		peer.Counters.TXDrops += peer.Queue.DrainDrops()
	}
	peer.Queue.Shutdown()
	if err != nil {
		s.log.WithField("session", peer.ID).WithError(err).Warn("bye could not be enqueued")
	}
}

func newMuid() wire.Muid {
	var m wire.Muid
	_, _ = rand.Read(m[:])
	return m
}

func (s *servent) maintainSlowTimer() {
	ticker := time.NewTicker(s.cfg.SlowInterval)
	defer ticker.Stop()
	for range ticker.C {
		now := s.clock.Now()
		s.manager.EvaluateModeFlip(now, s.promotionSignals())
		bye, changed := s.manager.ApplyPendingModeChange(now)
		if !changed {
			continue
		}
		for _, id := range bye {
			if peer, ok := s.manager.Get(id); ok {
				s.sendBye(peer, byeCodePeermodeChanged, "peermode changed")
				_ = peer.Transition(session.StateShutdown)
			}
		}
	}
}

// promotionSignals reads the signals EvaluateModeFlip needs from whatever
// this process can observe directly. Uptime is tracked from process start;
// the remaining headroom checks are conservative placeholders until a
// resource-monitoring collaborator is wired in.
func (s *servent) promotionSignals() peermgr.PromotionSignals {
	return peermgr.PromotionSignals{
		Uptime:           s.clock.Now().Sub(s.startedAt),
		BandwidthOK:      !s.sched.IsUrgent(),
		FDHeadroomOK:     true,
		MemoryHeadroomOK: true,
		GoodUDP:          false,
	}
}

func (s *servent) maintainErrorCleanup() {
	ticker := time.NewTicker(s.cfg.ErrorCounterInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.manager.ErrorCounterCleanup(s.clock.Now())
	}
}
