package mq

import (
	"sort"

	"github.com/simeonmiteff/gnutella-core/pkg/wire"
)

// qlink is an auxiliary index over droppable entries: each is appended as it
// is enqueued, and the slice is sorted by eviction priority (lowest score
// evicted first) at the start of every swift-mode eviction pass. Entries
// removed elsewhere in the queue stay in it as tombstones; qlinkTomb counts
// every removal from the queue since the last compaction, droppable or not,
// so it is an upper bound on the stale slots. Once that count exceeds the
// live slots by more than 3x, the array is compacted rather than rebuilt,
// since a rebuild would require re-scanning the whole order list.
const qlinkCompactionRatio = 3

func (q *Queue) qlinkDirtyIfDroppable(e *mqEntry) {
	if !e.msg.Header.Func.Droppable() {
		return
	}
	// Appending keeps qlink unsorted until the next eviction pass, which
	// re-sorts before consuming; this keeps Put O(1) at the cost of a sort
	// on first eviction after a burst of enqueues.
	q.qlink = append(q.qlink, e)
}

func (q *Queue) maybeCompactQlink() {
	live := 0
	for _, e := range q.qlink {
		if !e.removed {
			live++
		}
	}
	if live == 0 {
		if len(q.qlink) > 0 {
			q.qlink = q.qlink[:0]
			q.qlinkTomb = 0
		}
		return
	}
	if q.qlinkTomb <= live*qlinkCompactionRatio {
		return
	}
	compacted := make([]*mqEntry, 0, live)
	for _, e := range q.qlink {
		if !e.removed {
			compacted = append(compacted, e)
		}
	}
	q.qlink = compacted
	q.qlinkTomb = 0
}

// evictViaQlink drops droppable entries of strictly lower priority than
// prio in swift-mode priority order until at least need bytes have been
// freed, and returns how many bytes were actually freed. It skips
// tombstoned, already-started, and equal-or-higher-priority entries.
func (q *Queue) evictViaQlink(need int, prio wire.Priority) int {
	sort.SliceStable(q.qlink, func(i, j int) bool {
		return q.evictionScore(q.qlink[i]) < q.evictionScore(q.qlink[j])
	})

	freed := 0
	for _, e := range q.qlink {
		if freed >= need {
			break
		}
		if e.removed || e.msg.Started() || e.msg.Priority >= prio {
			continue
		}
		freed += e.msg.Size()
		q.removeElement(e.elem, e)
		q.dropped++
	}
	return freed
}

// evictionScore ranks a droppable entry for swift-mode eviction: lowest
// score goes first. Fresh, full-TTL queries at hop 1 are the cheapest to
// drop (a leaf will simply resend), so they sort first; query-hits follow,
// lowest hop count first and, within a hop count, highest remaining TTL
// first; other queries score 200 plus ten per hop.
func (q *Queue) evictionScore(e *mqEntry) int {
	h := e.msg.Header
	switch {
	case h.Func == wire.FuncQuery && h.Hops == 1 && h.TTL == q.maxTTL:
		return 0
	case h.Func == wire.FuncQueryHit:
		return 100 + int(h.Hops)*10 + int(q.maxTTL-h.TTL)
	case h.Func == wire.FuncQuery:
		return 200 + int(h.Hops)*10
	default:
		return 1000
	}
}
