// Package mq implements the per-session outbound message queue: ordering,
// byte/count accounting, a hysteretic flow-control state machine, and
// make-room / swift-mode eviction of droppable traffic when the queue
// grows past its watermarks.
package mq

import (
	"container/list"

	"github.com/simeonmiteff/gnutella-core/pkg/corerr"
	"github.com/simeonmiteff/gnutella-core/pkg/wire"
)

// FlowState is the queue's current backpressure level.
type FlowState int

const (
	// FlowNone is normal operation: writes proceed unthrottled.
	FlowNone FlowState = iota
	// FlowWarn means the queue has crossed the warn watermark; callers
	// should start shedding optional work (e.g. pause query broadcasts)
	// but the link itself is not yet considered congested.
	FlowWarn
	// FlowControl means the queue has crossed the flow-control watermark;
	// the session is expected to stop accepting new droppable traffic
	// from upstream and may be kicked if this persists too long.
	FlowControl
)

func (s FlowState) String() string {
	switch s {
	case FlowNone:
		return "none"
	case FlowWarn:
		return "warn"
	case FlowControl:
		return "flow-control"
	default:
		return "unknown"
	}
}

// Watermarks configures the byte thresholds driving the flow-control state
// machine. Hysteresis is implemented by exiting a state only once usage
// falls below a lower fraction of the watermark that triggered it, so a
// queue sitting exactly on a boundary doesn't flap between states.
type Watermarks struct {
	WarnBytes int
	FlowBytes int
	// MaxBytes is the hard cap: size must never exceed it. Unlike
	// WarnBytes/FlowBytes it has no hysteresis, since crossing it is a
	// terminal condition for non-droppable traffic rather than a
	// throttling signal.
	MaxBytes int
	// HysteresisNumerator/Denominator set the fraction of a watermark a
	// queue must fall back under before the corresponding state clears
	// (default 3/4).
	HysteresisNumerator   int
	HysteresisDenominator int
}

// DefaultWatermarks are sized for a modest link; callers with larger
// configured bandwidth typically scale these up proportionally.
var DefaultWatermarks = Watermarks{
	WarnBytes:             32 * 1024,
	FlowBytes:             128 * 1024,
	MaxBytes:              256 * 1024,
	HysteresisNumerator:   3,
	HysteresisDenominator: 4,
}

func (w Watermarks) hysteresisFloor(watermark int) int {
	num, den := w.HysteresisNumerator, w.HysteresisDenominator
	if den == 0 {
		num, den = 3, 4
	}
	return watermark * num / den
}

type mqEntry struct {
	msg     *wire.Message
	elem    *list.Element
	removed bool
}

// Queue holds a single session's pending outbound messages in send order,
// tracks byte/count totals, and exposes the flow-control and swift-mode
// eviction machinery used to keep a slow peer from unbounded buffering.
type Queue struct {
	order *list.List // of *mqEntry, oldest-first
	bySeq map[uint64]*mqEntry

	watermarks Watermarks
	maxTTL     uint8

	size      int
	flowState FlowState
	swift     bool
	shutdown  bool
	halted    bool
	flushMode bool // true once Flush() called until the next Unflush()

	nextSeq uint64
	dropped int // messages dropped/evicted since the last DrainDrops

	qlink     []*mqEntry
	qlinkTomb int
}

// New constructs an empty Queue. maxTTL is the protocol's maximum hop limit,
// used by the swift-mode eviction formula to recognize "fresh, full-TTL"
// search traffic.
func New(w Watermarks, maxTTL uint8) *Queue {
	return &Queue{
		order:      list.New(),
		bySeq:      make(map[uint64]*mqEntry),
		watermarks: w,
		maxTTL:     maxTTL,
	}
}

// Put enqueues msg, assigning it the next sequence number and inserting it
// in priority order (§3's non-decreasing-priority-class dequeue guarantee).
//
// If the queue is shut down, Put refuses new traffic with a Refused error.
//
// A non-droppable message (ping/pong/bye/push/vendor/...) is checked
// against the hard MaxBytes cap: if admitting it would exceed MaxBytes,
// Put first tries to make room by evicting droppable messages of strictly
// lower priority; if the cap still can't be met, it returns an Overflow
// error so the caller can tear the session down with a polite bye.
//
// A droppable message (query/query-hit) is instead checked against the
// current flow-control state: while the queue is flow-controlled, it is
// admitted only if room can be made for its exact size by evicting
// strictly lower-priority droppable traffic, otherwise it is dropped and
// counted (via DrainDrops) as a TX drop.
func (q *Queue) Put(h wire.Header, payload []byte, prio wire.Priority) (*wire.Message, error) {
	if q.shutdown {
		return nil, corerr.New(corerr.Refused, "queue is shut down")
	}
	msg := wire.NewMessage(h, payload, prio, q.nextSeq)
	q.nextSeq++
	need := msg.Size()

	if h.Func.Droppable() {
		if q.flowState == FlowControl && q.size+need > q.watermarks.FlowBytes {
			if freed := q.makeRoom(need, prio); freed < need {
				q.dropped++
				return nil, corerr.New(corerr.Refused, "dropped under flow control")
			}
		}
	} else {
		// Non-droppable traffic is never rejected for merely crossing
		// FlowBytes; crossing it only triggers an opportunistic attempt to
		// make room by evicting lower-priority droppable backlog. Only
		// MaxBytes, the hard cap, can actually refuse a non-droppable
		// message.
		if q.size+need > q.watermarks.FlowBytes {
			q.makeRoom(need, prio)
		}
		if q.size+need > q.watermarks.MaxBytes {
			q.dropped++
			return nil, corerr.New(corerr.Overflow, "send queue reached %d bytes", q.watermarks.MaxBytes)
		}
	}

	e := &mqEntry{msg: msg}
	q.insert(e)
	q.bySeq[msg.Seq] = e
	q.size += msg.Size()
	q.qlinkDirtyIfDroppable(e)
	q.recomputeFlowState()
	return msg, nil
}

// insert places e just after the last Started or equal-or-higher-priority
// entry, and before the first entry whose priority is strictly lower than
// e's — giving non-decreasing priority class on dequeue while keeping FIFO
// order within a class.
func (q *Queue) insert(e *mqEntry) {
	var after *list.Element
	for el := q.order.Front(); el != nil; el = el.Next() {
		cur := el.Value.(*mqEntry)
		if cur.msg.Started() || cur.msg.Priority >= e.msg.Priority {
			after = el
			continue
		}
		break
	}
	if after == nil {
		e.elem = q.order.PushFront(e)
		return
	}
	e.elem = q.order.InsertAfter(e, after)
}

// Clear drops every not-yet-started pending message. Started messages (a
// partial write already in flight) are preserved, honoring the
// partial-write preservation invariant.
func (q *Queue) Clear() {
	var next *list.Element
	for el := q.order.Front(); el != nil; el = next {
		next = el.Next()
		e := el.Value.(*mqEntry)
		if e.msg.Started() {
			continue
		}
		q.removeElement(el, e)
	}
	q.recomputeFlowState()
}

// Discard removes a single specific not-yet-started message by sequence
// number. It reports false if no such pending message exists or it has
// already started transmitting. This is a targeted, single-message
// operation; it is not the queue-level discard() described below.
func (q *Queue) Discard(seq uint64) bool {
	e, ok := q.bySeq[seq]
	if !ok || e.msg.Started() {
		return false
	}
	q.removeElement(e.elem, e)
	q.recomputeFlowState()
	return true
}

// Shutdown implements discard(): it stops the queue from accepting new Put
// calls, but already queued messages remain available via Front/Pop so a
// graceful bye and any already-queued traffic can still drain.
func (q *Queue) Shutdown() {
	q.shutdown = true
}

// Halt implements shutdown(): it stops all output immediately, discarding
// every pending message (started or not) along with the priority index.
// Callers reach for this only once the link itself is being torn down and
// there is no further use in draining the backlog.
func (q *Queue) Halt() {
	q.shutdown = true
	q.halted = true
	q.order.Init()
	q.bySeq = make(map[uint64]*mqEntry)
	q.qlink = nil
	q.qlinkTomb = 0
	q.size = 0
	q.flowState = FlowNone
}

// Halted reports whether Halt has been called.
func (q *Queue) Halted() bool { return q.halted }

// DrainDrops returns the number of messages dropped or evicted by this
// queue since the last call, resetting the count to zero. Callers fold
// this into their own TX-drop counters after every Put.
func (q *Queue) DrainDrops() int {
	n := q.dropped
	q.dropped = 0
	return n
}

// Flush marks the queue as wanting an immediate downstream flush (of the
// deflate stream and the link) after its next drain batch.
func (q *Queue) Flush() {
	q.flushMode = true
}

// Unflush clears the pending-flush flag, letting writes batch up again
// before the next deflate/link flush.
func (q *Queue) Unflush() {
	q.flushMode = false
}

// NeedsFlush reports whether Flush has been called since the last Unflush.
func (q *Queue) NeedsFlush() bool {
	return q.flushMode
}

// Front returns the next message in send order (higher-priority messages
// are inserted ahead of older normal-priority ones) without removing it, or
// nil if the queue is empty. The event loop calls WriteTo on it repeatedly until
// Done(), then calls Pop.
func (q *Queue) Front() *wire.Message {
	el := q.order.Front()
	if el == nil {
		return nil
	}
	return el.Value.(*mqEntry).msg
}

// Pop removes the front message once fully transmitted. It is a no-op if
// the queue is empty or the front message is not yet Done.
func (q *Queue) Pop() {
	el := q.order.Front()
	if el == nil {
		return
	}
	e := el.Value.(*mqEntry)
	if !e.msg.Done() {
		return
	}
	q.removeElement(el, e)
	q.recomputeFlowState()
}

// Size returns total pending payload bytes.
func (q *Queue) Size() int { return q.size }

// Count returns the number of pending messages.
func (q *Queue) Count() int { return q.order.Len() }

// Pending reports whether any message is queued.
func (q *Queue) Pending() bool { return q.order.Len() > 0 }

// IsFlowControlled reports whether the queue is currently in the
// flow-control state.
func (q *Queue) IsFlowControlled() bool { return q.flowState == FlowControl }

// IsWarnZone reports whether the queue is at or above the warn watermark.
func (q *Queue) IsWarnZone() bool { return q.flowState != FlowNone }

// IsSwiftControlled reports whether swift (aggressive) eviction mode is
// currently active.
func (q *Queue) IsSwiftControlled() bool { return q.swift }

// SetSwift enables or disables swift mode. The queue never enters or leaves
// swift mode by itself, whatever its flow-control state; it stays as the
// last SetSwift call left it.
func (q *Queue) SetSwift(on bool) {
	q.swift = on
}

func (q *Queue) recomputeFlowState() {
	wm := q.watermarks
	switch q.flowState {
	case FlowNone:
		if q.size >= wm.FlowBytes {
			q.flowState = FlowControl
		} else if q.size >= wm.WarnBytes {
			q.flowState = FlowWarn
		}
	case FlowWarn:
		if q.size >= wm.FlowBytes {
			q.flowState = FlowControl
		} else if q.size < wm.hysteresisFloor(wm.WarnBytes) {
			q.flowState = FlowNone
		}
	case FlowControl:
		if q.size < wm.hysteresisFloor(wm.FlowBytes) {
			if q.size >= wm.WarnBytes {
				q.flowState = FlowWarn
			} else {
				q.flowState = FlowNone
			}
		}
	}
}

func (q *Queue) removeElement(el *list.Element, e *mqEntry) {
	q.order.Remove(el)
	delete(q.bySeq, e.msg.Seq)
	q.size -= e.msg.Size()
	e.removed = true
	q.qlinkTomb++
	q.maybeCompactQlink()
}

// makeRoom evicts droppable messages of strictly lower priority than prio
// (never a started one, and never one ranking equal or higher, so a push
// can never sacrifice another push to admit itself) until at least need
// additional bytes are free or no more candidates remain. It returns the
// bytes actually freed. Outside of swift mode this walks oldest-first;
// swift mode instead consults the qlink priority ordering. Every eviction
// counts as a TX drop, surfaced via DrainDrops.
func (q *Queue) makeRoom(need int, prio wire.Priority) int {
	freed := 0
	if q.swift {
		freed = q.evictViaQlink(need, prio)
	}
	if freed >= need {
		return freed
	}
	for el := q.order.Front(); el != nil && freed < need; {
		next := el.Next()
		e := el.Value.(*mqEntry)
		if !e.msg.Started() && e.msg.Header.Func.Droppable() && e.msg.Priority < prio {
			freed += e.msg.Size()
			q.removeElement(el, e)
			q.dropped++
		}
		el = next
	}
	return freed
}
