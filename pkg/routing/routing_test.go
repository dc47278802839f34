package routing

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/simeonmiteff/gnutella-core/pkg/wire"
)

func testKey(b byte) Key {
	var m wire.Muid
	m[0] = b
	return Key{Func: wire.FuncPing, Muid: m}
}

func TestRecordAndOrigin(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tbl, err := New(Config{MaxEntries: 16, TTL: time.Minute}, clock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	k := testKey(1)
	tbl.Record(k, SessionID(42))

	origin, ok := tbl.Origin(k)
	if !ok || origin != 42 {
		t.Fatalf("Origin() = (%v, %v), want (42, true)", origin, ok)
	}
}

func TestDuplicateAndExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tbl, err := New(Config{MaxEntries: 16, TTL: time.Minute}, clock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	k := testKey(2)
	if tbl.IsDuplicate(k) {
		t.Fatal("IsDuplicate() = true before any Record")
	}
	tbl.Record(k, SessionID(1))
	if !tbl.IsDuplicate(k) {
		t.Fatal("IsDuplicate() = false after Record")
	}

	clock.Advance(2 * time.Minute)
	if tbl.IsDuplicate(k) {
		t.Fatal("IsDuplicate() = true after TTL elapsed")
	}
	if _, ok := tbl.Origin(k); ok {
		t.Fatal("Origin() returned a route past TTL")
	}
}

func TestRemove(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tbl, err := New(Config{MaxEntries: 16, TTL: time.Minute}, clock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	k := testKey(3)
	tbl.Record(k, SessionID(7))
	tbl.Remove(k)
	if _, ok := tbl.Origin(k); ok {
		t.Fatal("Origin() returned a route after Remove")
	}
}

func TestDistinctFunctionsDoNotCollide(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tbl, err := New(Config{MaxEntries: 16, TTL: time.Minute}, clock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var muid wire.Muid
	muid[0] = 9
	ping := Key{Func: wire.FuncPing, Muid: muid}
	query := Key{Func: wire.FuncQuery, Muid: muid}

	tbl.Record(ping, SessionID(1))
	if tbl.IsDuplicate(query) {
		t.Fatal("a ping route was mistaken for a query route with the same muid")
	}
}
