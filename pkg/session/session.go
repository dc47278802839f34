package session

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/simeonmiteff/gnutella-core/pkg/linkhealth"
	"github.com/simeonmiteff/gnutella-core/pkg/mq"
	"github.com/simeonmiteff/gnutella-core/pkg/wire"
)

// ID identifies a session for the lifetime of the process. Callers obtain
// one from the peer manager when a session is admitted.
type ID uint64

// Flags are negotiated or observed boolean attributes of a session, kept as
// a bitset rather than individual bools so logging/metrics can snapshot
// them cheaply.
type Flags uint32

const (
	// FlagSflag means the peer advertised the marked-size header
	// extension during handshake.
	FlagSflag Flags = 1 << iota
	// FlagDeflate means both sides negotiated Content-Encoding: deflate.
	FlagDeflate
	// FlagUltrapeer means the peer identifies as an ultrapeer.
	FlagUltrapeer
	// FlagLeaf means the peer identifies as a leaf of this node.
	FlagLeaf
	// FlagCrawler means the peer connected with the crawler handshake
	// header and will be given a peer list then disconnected.
	FlagCrawler
	// FlagOutbound means this node initiated the TCP connection.
	FlagOutbound
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Counters tracks per-function message counts, plus the drop/anomaly tallies
// the peer manager's worst-peer eviction scoring and flow-control decay
// consult directly.
type Counters struct {
	RxByFunc map[wire.Function]uint64
	TxByFunc map[wire.Function]uint64
	RxBytes  uint64
	TxBytes  uint64

	TXDrops    uint64
	RXDrops    uint64
	Duplicates uint64
	Bad        uint64
	Weird      uint64
	Hostile    uint64
	Spam       uint64
	Evil       uint64
}

func newCounters() Counters {
	return Counters{
		RxByFunc: make(map[wire.Function]uint64),
		TxByFunc: make(map[wire.Function]uint64),
	}
}

// RecordRx accounts for a received message.
func (c *Counters) RecordRx(f wire.Function, size int) {
	c.RxByFunc[f]++
	c.RxBytes += uint64(size)
}

// RecordTx accounts for a sent message.
func (c *Counters) RecordTx(f wire.Function, size int) {
	c.TxByFunc[f]++
	c.TxBytes += uint64(size)
}

// Score returns the worst-peer eviction weight contributed by these
// counters: 100*weird + 10*bad + dups.
func (c *Counters) Score() int {
	return 100*int(c.Weird) + 10*int(c.Bad) + int(c.Duplicates)
}

// Session is one peer connection: its state machine position, negotiated
// flags, link, outbound queue, counters and remove-reason bookkeeping.
type Session struct {
	ID    ID
	State State
	Flags Flags

	Link  *LinkConn
	Queue *mq.Queue

	Vendor     string
	RemoteAddr string

	Counters Counters
	Health   linkhealth.Score

	// RxTCPRatio is computed but never acted on: the reference
	// implementation's RX/TX byte-ratio sanity check is disabled, and this
	// port keeps that behavior rather than resurrecting an enforcement
	// path nobody has validated.
	RxTCPRatio float64

	RemoveReason string

	// HasQRT, FilesShared and HopsFlowSince feed the peer manager's
	// "useless leaf" eviction test: no query routing table received, no
	// files shared, or hops-flow throttled for at least the grace period.
	HasQRT       bool
	FilesShared  int
	HopsFlowSince time.Time

	createdAt        time.Time
	lastTransitionAt time.Time
	clock            clockwork.Clock
}

// New constructs a Session in StateConnecting.
func New(id ID, link *LinkConn, queue *mq.Queue, outbound bool, clock clockwork.Clock) *Session {
	var flags Flags
	if outbound {
		flags |= FlagOutbound
	}
	now := clock.Now()
	return &Session{
		ID:               id,
		State:            StateConnecting,
		Flags:            flags,
		Link:             link,
		Queue:            queue,
		Counters:         newCounters(),
		createdAt:        now,
		lastTransitionAt: now,
		clock:            clock,
	}
}

// Age returns how long the session has existed.
func (s *Session) Age() time.Duration {
	return s.clock.Now().Sub(s.createdAt)
}

// TimeInState returns how long the session has held its current state.
func (s *Session) TimeInState() time.Duration {
	return s.clock.Now().Sub(s.lastTransitionAt)
}

// RecordRx folds a received header+payload into the session's counters and
// updates the computed (but inert) RX/TX ratio.
func (s *Session) RecordRx(h wire.Header, payloadLen int) {
	s.Counters.RecordRx(h.Func, payloadLen)
	s.updateRatio()
}

// RecordTx folds a sent header+payload into the session's counters.
func (s *Session) RecordTx(h wire.Header, payloadLen int) {
	s.Counters.RecordTx(h.Func, payloadLen)
	s.updateRatio()
}

func (s *Session) updateRatio() {
	if s.Counters.TxBytes == 0 {
		s.RxTCPRatio = 0
		return
	}
	s.RxTCPRatio = float64(s.Counters.RxBytes) / float64(s.Counters.TxBytes)
}

// IsUselessLeaf reports whether this leaf session is a candidate for
// eviction to make room for an incoming peer: it has sent no query routing
// table, shares no files, or has been hops-flow throttled for at least
// graceSeconds.
func (s *Session) IsUselessLeaf(graceSeconds int, now time.Time) bool {
	if !s.HasQRT || s.FilesShared == 0 {
		return true
	}
	if s.HopsFlowSince.IsZero() {
		return false
	}
	return now.Sub(s.HopsFlowSince) >= time.Duration(graceSeconds)*time.Second
}

// MarkRemoving transitions to StateRemoving (if not already terminal) and
// records reason for diagnostics.
func (s *Session) MarkRemoving(reason string) {
	s.RemoveReason = reason
	_ = s.Transition(StateRemoving)
}
