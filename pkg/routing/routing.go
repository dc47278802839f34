// Package routing implements the message-id routing table: a time-bounded
// map from a (function, muid) pair to the session a message arrived from,
// so a later reply (pong, query-hit, push) can be routed back along the
// path it came in on rather than broadcast.
package routing

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"github.com/simeonmiteff/gnutella-core/pkg/wire"
)

// SessionID identifies the peer session a message was last seen on. The
// table never dereferences a session itself; it only stores the ID so
// routing stays decoupled from session lifetime.
type SessionID uint64

// Key is the routing table's lookup key: function code plus message-id.
// Two different functions sharing a muid are distinct routes (a ping and a
// query can coincidentally carry the same 16 bytes).
type Key struct {
	Func wire.Function
	Muid wire.Muid
}

type entry struct {
	origin  SessionID
	seen    time.Time
	via     []SessionID // additional sessions a broadcast also reached, for duplicate suppression
}

// Table routes replies back to the session a request arrived from and
// suppresses message duplicates seen within a bounded time window. It is
// not safe for concurrent use; callers on the single-threaded event loop
// serialize access naturally.
type Table struct {
	clock clockwork.Clock
	ttl   time.Duration
	cache *lru.Cache[Key, *entry]
}

// Config controls table sizing and the duplicate/route retention window.
type Config struct {
	// MaxEntries bounds memory; once full, the least recently used route
	// (Record, Origin and IsDuplicate all count as use) is evicted first,
	// independent of TTL.
	MaxEntries int
	// TTL is how long a route remains valid for reply delivery and
	// duplicate suppression.
	TTL time.Duration
}

// DefaultConfig mirrors typical gtk-gnutella-style sizing: generous enough
// to cover a query's round trip across a busy ultrapeer.
var DefaultConfig = Config{
	MaxEntries: 1 << 16,
	TTL:        5 * time.Minute,
}

// New constructs a Table. clock lets tests control expiry deterministically.
func New(cfg Config, clock clockwork.Clock) (*Table, error) {
	cache, err := lru.New[Key, *entry](cfg.MaxEntries)
	if err != nil {
		return nil, err
	}
	return &Table{clock: clock, ttl: cfg.TTL, cache: cache}, nil
}

// Record stores origin as the session a message with the given key
// arrived from. If the key is already routed (a duplicate broadcast), the
// new origin is appended to the route's via list and IsDuplicate will
// report true for the same key until it expires.
func (t *Table) Record(key Key, origin SessionID) {
	if e, ok := t.cache.Get(key); ok && t.alive(e) {
		e.via = append(e.via, origin)
		return
	}
	t.cache.Add(key, &entry{origin: origin, seen: t.clock.Now()})
}

// Origin returns the session a message with key was first seen from, and
// whether a live (non-expired) route exists.
func (t *Table) Origin(key Key) (SessionID, bool) {
	e, ok := t.cache.Get(key)
	if !ok || !t.alive(e) {
		return 0, false
	}
	return e.origin, true
}

// IsDuplicate reports whether key has already been recorded and its route
// has not yet expired — the routing table's primary use as a loop
// suppressor for broadcast traffic.
func (t *Table) IsDuplicate(key Key) bool {
	e, ok := t.cache.Get(key)
	return ok && t.alive(e)
}

// Remove drops any route for key. Session teardown does not call it; a
// torn-down session's routes stay until they expire or are evicted.
func (t *Table) Remove(key Key) {
	t.cache.Remove(key)
}

// Len returns the number of routes currently tracked, expired or not.
func (t *Table) Len() int {
	return t.cache.Len()
}

func (t *Table) alive(e *entry) bool {
	return t.clock.Now().Sub(e.seen) < t.ttl
}
