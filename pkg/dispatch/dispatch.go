// Package dispatch implements the routing and dispatch decision for a
// fully-framed inbound message: per-function TTL/hops policy, the choice
// between local handling, forwarding, or delivery to a recorded route, and
// duplicate suppression via the routing table. It holds no socket state of
// its own — callers act on the returned Decision.
package dispatch

import (
	"github.com/simeonmiteff/gnutella-core/pkg/routing"
	"github.com/simeonmiteff/gnutella-core/pkg/session"
	"github.com/simeonmiteff/gnutella-core/pkg/wire"
)

// Outcome names what the caller should do with a message once Dispatch has
// classified it.
type Outcome int

const (
	// OutcomeDrop means the message failed validation and must be counted
	// and discarded; no further action.
	OutcomeDrop Outcome = iota
	// OutcomeLocal means the message is handled by its own subsystem
	// (ping/pong/bye/vendor/qrt/hsep/rudp/dht) without routing
	// consultation.
	OutcomeLocal
	// OutcomeForward means a query should be propagated onward per the
	// routing table's broadcast/dynamic-querying rules.
	OutcomeForward
	// OutcomeDeliver means a query-hit or push should be handed to the
	// session recorded as the route's origin.
	OutcomeDeliver
)

// Decision is the result of dispatching one inbound message.
type Decision struct {
	Outcome Outcome
	Reason  string // populated for OutcomeDrop

	// ByeCode is nonzero for an OutcomeDrop that is a protocol violation
	// serious enough to tear the session down with a bye carrying this
	// code, rather than just being silently counted.
	ByeCode uint16

	// Target is the session a query-hit or push should be delivered to.
	// Valid only for OutcomeDeliver.
	Target    session.ID
	HasTarget bool

	// Duplicate reports whether a query was already seen and should be
	// suppressed rather than forwarded, even though it is otherwise a
	// valid OutcomeForward candidate.
	Duplicate bool
}

// localFuncs dispatches directly to their own subsystem handler without any
// routing table consultation.
var localFuncs = map[wire.Function]bool{
	wire.FuncPing:           true,
	wire.FuncPong:           true,
	wire.FuncBye:            true,
	wire.FuncVendor:         true,
	wire.FuncStandardVendor: true,
	wire.FuncQRT:            true,
	wire.FuncHSEP:           true,
	wire.FuncRUDP:           true,
	wire.FuncDHT:            true,
}

// hopsTTLPolicy is the set of functions that must arrive with hops=0 and
// ttl<=1 (a message that has only ever taken one more hop to reach us).
var hopsTTLPolicy = map[wire.Function]bool{
	wire.FuncPing:           true,
	wire.FuncPong:           true,
	wire.FuncBye:            true,
	wire.FuncVendor:         true,
	wire.FuncStandardVendor: true,
	wire.FuncQRT:            true,
	wire.FuncHSEP:           true,
}

// Dispatcher classifies inbound messages and consults the routing table for
// the function codes that need it.
type Dispatcher struct {
	routes *routing.Table
}

// New constructs a Dispatcher over routes.
func New(routes *routing.Table) *Dispatcher {
	return &Dispatcher{routes: routes}
}

// Dispatch classifies h, arrived on fromSession from a peer that is (or
// isn't) one of our leaves, per §4.6's five-step decision. It assumes h has
// already passed wire.DecodeHeader/ValidateSize; step 1 of that section is
// the caller's responsibility.
func (d *Dispatcher) Dispatch(h wire.Header, fromSession session.ID, fromIsLeaf bool) Decision {
	// byeCodeHopsTTLViolation is sent when a peer violates the hops/ttl
	// policy for its own traffic (e.g. a leaf emitting nonzero hops, or a
	// local-function message arriving with more than one hop behind it).
	const byeCodeHopsTTLViolation = 414

	if fromIsLeaf && h.Hops != 0 {
		return Decision{Outcome: OutcomeDrop, Reason: "leaf emitted nonzero hops", ByeCode: byeCodeHopsTTLViolation}
	}
	if hopsTTLPolicy[h.Func] && (h.Hops != 0 || h.TTL > 1) {
		return Decision{Outcome: OutcomeDrop, Reason: "hops/ttl policy violation", ByeCode: byeCodeHopsTTLViolation}
	}

	if localFuncs[h.Func] {
		return Decision{Outcome: OutcomeLocal}
	}

	switch h.Func {
	case wire.FuncQuery:
		key := routing.Key{Func: wire.FuncQuery, Muid: h.Muid}
		dup := d.routes.IsDuplicate(key)
		d.routes.Record(key, routing.SessionID(fromSession))
		return Decision{Outcome: OutcomeForward, Duplicate: dup}
	case wire.FuncQueryHit, wire.FuncPush:
		// Both a query-hit and the push it may trigger retrace the
		// original query's path, so both are looked up under the
		// query's own muid rather than their own function code.
		origin, ok := d.routes.Origin(routing.Key{Func: wire.FuncQuery, Muid: h.Muid})
		if !ok {
			return Decision{Outcome: OutcomeDrop, Reason: "no route for reply"}
		}
		return Decision{Outcome: OutcomeDeliver, Target: session.ID(origin), HasTarget: true}
	default:
		return Decision{Outcome: OutcomeDrop, Reason: "unknown function code"}
	}
}
