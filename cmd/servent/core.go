package main

import (
	"encoding/binary"

	"github.com/simeonmiteff/gnutella-core/pkg/dispatch"
	"github.com/simeonmiteff/gnutella-core/pkg/session"
	"github.com/simeonmiteff/gnutella-core/pkg/wire"
)

// dispatchLoop is the single goroutine that owns routing decisions: every
// inbound message from every session's read loop funnels through here, so
// the routing table (not safe for concurrent use) only ever sees one
// caller, matching the single-threaded event loop the routing table's
// contract assumes.
func (s *servent) dispatchLoop() {
	for msg := range s.inbound {
		s.handle(msg)
	}
}

func (s *servent) handle(msg inboundMsg) {
	d := s.disp.Dispatch(msg.header, msg.from.ID, msg.isLeaf)
	switch d.Outcome {
	case dispatch.OutcomeDrop:
		msg.from.Counters.Bad++
		if d.ByeCode != 0 {
			s.terminateProtocolViolation(msg.from, d.ByeCode, d.Reason)
		}
	case dispatch.OutcomeLocal:
		s.handleLocal(msg)
	case dispatch.OutcomeForward:
		if d.Duplicate {
			msg.from.Counters.Duplicates++
			return
		}
		s.broadcastQuery(msg)
	case dispatch.OutcomeDeliver:
		if d.HasTarget {
			s.deliver(msg, d.Target)
		}
	}
}

// handleLocal covers ping/pong/bye/vendor/qrt/hsep/rudp/dht: everything
// that doesn't need a routing table lookup. Only bye acts on the session
// itself here; the remaining function codes' payload semantics belong to
// search indexing and capability negotiation, both outside this core.
func (s *servent) handleLocal(msg inboundMsg) {
	switch msg.header.Func {
	case wire.FuncBye:
		code, reason := parseBye(msg.payload)
		s.log.WithField("session", msg.from.ID).WithField("code", code).WithField("reason", reason).Info("peer sent bye")
		msg.from.MarkRemoving(reason)
	default:
		// ping/pong/vendor/qrt/hsep/rudp/dht: counted on arrival by
		// RecordRx already; no further routing action needed here.
	}
}

// parseBye decodes a bye payload's 16-bit little-endian code and trailing
// human-readable text, per the wire format's bye-packet definition.
func parseBye(payload []byte) (code uint16, reason string) {
	if len(payload) < 2 {
		return 0, "malformed bye"
	}
	code = binary.LittleEndian.Uint16(payload[0:2])
	text := string(payload[2:])
	if text == "" {
		return code, "bye"
	}
	return code, text
}

// broadcastQuery forwards a query to every other connected session, per
// §4.6's simplified broadcast rule: decrement TTL, increment hops, and skip
// peers for which the message would arrive with TTL 0 — except a leaf's
// query passing through an ultra, whose TTL is left untouched so replies
// can still flow back at TTL 0 (dynamic querying is otherwise out of this
// core's scope).
func (s *servent) broadcastQuery(msg inboundMsg) {
	out := msg.header
	if !msg.isLeaf {
		if out.TTL == 0 {
			return
		}
		out.TTL--
	}
	out.Hops++

	s.manager.ForEach(msg.from.ID, func(peer *session.Session) {
		if out.TTL == 0 && !msg.isLeaf {
			return
		}
		s.putOrDrop(peer, out, msg.payload, wire.PriorityNormal)
	})
}

// deliver hands a query-hit or push to the session recorded as the
// original query's origin.
func (s *servent) deliver(msg inboundMsg, target session.ID) {
	peer, ok := s.manager.Get(target)
	if !ok {
		return
	}
	out := msg.header
	out.Hops++
	if out.TTL > 0 {
		out.TTL--
	}
	s.putOrDrop(peer, out, msg.payload, wire.PriorityControl)
}
