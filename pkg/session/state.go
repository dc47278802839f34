// Package session implements the per-peer connection state machine: the
// handshake progression, session attributes/flags, RX/TX message counters,
// and the link/queue plumbing each connected peer owns.
package session

import "github.com/simeonmiteff/gnutella-core/pkg/corerr"

// State is a peer session's position in the handshake/lifecycle state
// machine.
type State int

const (
	// StateConnecting is the initial state: a TCP connect is in flight
	// (outbound) or has just been accepted (inbound), no handshake bytes
	// exchanged yet.
	StateConnecting State = iota
	// StateHelloSent means we have written our side of the 0.6 handshake
	// (an outbound "GNUTELLA CONNECT/0.6" or a 200 OK response) and are
	// waiting on the peer.
	StateHelloSent
	// StateReceivingHello means we are parsing the peer's handshake
	// headers (their CONNECT request, or their response to ours).
	StateReceivingHello
	// StateWelcomeSent means our final handshake acknowledgement has been
	// written and we are waiting for the peer's first post-handshake byte
	// (or, for an outbound connection, nothing further is needed).
	StateWelcomeSent
	// StateConnected is steady-state message exchange.
	StateConnected
	// StateShutdown means a bye has been queued or sent and the session is
	// draining before removal.
	StateShutdown
	// StateRemoving is terminal: the session is being torn down and its
	// resources released.
	StateRemoving
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHelloSent:
		return "hello-sent"
	case StateReceivingHello:
		return "receiving-hello"
	case StateWelcomeSent:
		return "welcome-sent"
	case StateConnected:
		return "connected"
	case StateShutdown:
		return "shutdown"
	case StateRemoving:
		return "removing"
	default:
		return "unknown"
	}
}

// validNext enumerates the states directly reachable from each state. Any
// state may jump straight to StateRemoving (abrupt teardown on error),
// which is handled separately in Transition rather than repeated in every
// entry below.
var validNext = map[State][]State{
	StateConnecting:      {StateHelloSent, StateReceivingHello},
	StateHelloSent:       {StateReceivingHello},
	StateReceivingHello:  {StateWelcomeSent},
	StateWelcomeSent:     {StateConnected},
	StateConnected:       {StateShutdown},
	StateShutdown:        {StateRemoving},
	StateRemoving:        nil,
}

// Transition moves the session to next, validating the edge. Removing is
// always reachable as an abrupt-teardown escape hatch from any non-terminal
// state.
func (s *Session) Transition(next State) error {
	if s.State == StateRemoving {
		return corerr.New(corerr.Internal, "session already removing, cannot transition to %s", next)
	}
	if next == StateRemoving {
		s.State = StateRemoving
		s.lastTransitionAt = s.clock.Now()
		return nil
	}
	for _, allowed := range validNext[s.State] {
		if allowed == next {
			s.State = next
			s.lastTransitionAt = s.clock.Now()
			return nil
		}
	}
	return corerr.New(corerr.Internal, "invalid session transition %s -> %s", s.State, next)
}
