package dispatch

import (
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/simeonmiteff/gnutella-core/pkg/routing"
	"github.com/simeonmiteff/gnutella-core/pkg/session"
	"github.com/simeonmiteff/gnutella-core/pkg/wire"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *routing.Table) {
	t.Helper()
	tbl, err := routing.New(routing.DefaultConfig, clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("routing.New: %v", err)
	}
	return New(tbl), tbl
}

func TestDispatchLocalFunction(t *testing.T) {
	d, _ := newTestDispatcher(t)
	h := wire.Header{Func: wire.FuncPing, Hops: 0, TTL: 1}
	got := d.Dispatch(h, 1, false)
	if got.Outcome != OutcomeLocal {
		t.Fatalf("Outcome = %v, want OutcomeLocal", got.Outcome)
	}
}

func TestDispatchDropsHopsTTLViolation(t *testing.T) {
	d, _ := newTestDispatcher(t)
	h := wire.Header{Func: wire.FuncPong, Hops: 1, TTL: 1}
	got := d.Dispatch(h, 1, false)
	if got.Outcome != OutcomeDrop {
		t.Fatalf("Outcome = %v, want OutcomeDrop", got.Outcome)
	}
	if got.ByeCode != 414 {
		t.Fatalf("ByeCode = %d, want 414", got.ByeCode)
	}
}

func TestDispatchDropsLeafNonzeroHops(t *testing.T) {
	d, _ := newTestDispatcher(t)
	h := wire.Header{Func: wire.FuncQuery, Hops: 2, TTL: 3}
	got := d.Dispatch(h, 1, true)
	if got.Outcome != OutcomeDrop {
		t.Fatalf("Outcome = %v, want OutcomeDrop", got.Outcome)
	}
	if got.ByeCode != 414 {
		t.Fatalf("ByeCode = %d, want 414", got.ByeCode)
	}
}

// TestDispatchLeafPingHopsOneSendsBye414 is the S4 scenario: a connected
// leaf sends a ping with hops=1 and expects a bye carrying code 414 on top
// of the bad-counter bump its caller applies.
func TestDispatchLeafPingHopsOneSendsBye414(t *testing.T) {
	d, _ := newTestDispatcher(t)
	h := wire.Header{Func: wire.FuncPing, Hops: 1, TTL: 1}
	got := d.Dispatch(h, 1, true)
	if got.Outcome != OutcomeDrop || got.ByeCode != 414 {
		t.Fatalf("got %+v, want OutcomeDrop with ByeCode 414", got)
	}
}

func TestDispatchQueryHitWithNoRouteHasNoByeCode(t *testing.T) {
	d, _ := newTestDispatcher(t)
	h := wire.Header{Func: wire.FuncQueryHit, Hops: 0, TTL: 3, Muid: wire.Muid{6}}
	got := d.Dispatch(h, 2, false)
	if got.Outcome != OutcomeDrop || got.ByeCode != 0 {
		t.Fatalf("got %+v, want OutcomeDrop with no bye code (routing miss, not a protocol violation)", got)
	}
}

func TestDispatchQueryRecordsRouteAndForwards(t *testing.T) {
	d, tbl := newTestDispatcher(t)
	h := wire.Header{Func: wire.FuncQuery, Hops: 0, TTL: 4, Muid: wire.Muid{1, 2, 3}}

	first := d.Dispatch(h, 1, false)
	if first.Outcome != OutcomeForward || first.Duplicate {
		t.Fatalf("first dispatch = %+v, want forward/non-duplicate", first)
	}
	origin, ok := tbl.Origin(routing.Key{Func: wire.FuncQuery, Muid: h.Muid})
	if !ok || origin != routing.SessionID(1) {
		t.Fatalf("Origin = (%v, %v), want (1, true)", origin, ok)
	}

	second := d.Dispatch(h, 2, false)
	if second.Outcome != OutcomeForward || !second.Duplicate {
		t.Fatalf("second dispatch = %+v, want forward/duplicate", second)
	}
}

func TestDispatchQueryHitDeliversToOrigin(t *testing.T) {
	d, tbl := newTestDispatcher(t)
	muid := wire.Muid{9}
	tbl.Record(routing.Key{Func: wire.FuncQuery, Muid: muid}, routing.SessionID(7))

	h := wire.Header{Func: wire.FuncQueryHit, Hops: 0, TTL: 3, Muid: muid}
	got := d.Dispatch(h, 2, false)
	if got.Outcome != OutcomeDeliver || !got.HasTarget || got.Target != 7 {
		t.Fatalf("got %+v, want deliver to session 7", got)
	}
}

func TestDispatchQueryHitWithNoRouteDrops(t *testing.T) {
	d, _ := newTestDispatcher(t)
	h := wire.Header{Func: wire.FuncQueryHit, Hops: 0, TTL: 3, Muid: wire.Muid{5}}
	got := d.Dispatch(h, 2, false)
	if got.Outcome != OutcomeDrop {
		t.Fatalf("Outcome = %v, want OutcomeDrop (no route)", got.Outcome)
	}
}

func TestDispatchPushUsesSameRouteTableAsQueryHit(t *testing.T) {
	d, tbl := newTestDispatcher(t)
	muid := wire.Muid{3}
	tbl.Record(routing.Key{Func: wire.FuncQuery, Muid: muid}, routing.SessionID(4))

	h := wire.Header{Func: wire.FuncPush, Hops: 0, TTL: 3, Muid: muid}
	got := d.Dispatch(h, 9, false)
	if got.Outcome != OutcomeDeliver || got.Target != 4 {
		t.Fatalf("got %+v, want deliver to session 4", got)
	}
}
