package peermgr

import (
	"testing"

	"github.com/simeonmiteff/gnutella-core/pkg/config"
	"github.com/simeonmiteff/gnutella-core/pkg/session"
	"github.com/simeonmiteff/gnutella-core/pkg/wire"
)

func TestSweepFinalizesDrainedShutdown(t *testing.T) {
	m, clock := newTestManager()
	s := newTestSession(1, "acme", clock)
	if err := s.Transition(session.StateShutdown); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	m.Add(s, config.ModeLeaf)

	actions := m.Sweep(clock.Now())
	if len(actions) != 1 || actions[0].Kind != ActionFinalizeRemoval || actions[0].Session != 1 {
		t.Fatalf("actions = %+v, want a single finalize-removal", actions)
	}
}

func TestSweepWaitsForGraceBeforeFinalizing(t *testing.T) {
	m, clock := newTestManager()
	s := newTestSession(1, "acme", clock)
	_ = s.Transition(session.StateShutdown)
	h := wire.Header{Func: wire.FuncPing}
	if _, err := s.Queue.Put(h, []byte("x"), wire.PriorityNormal); err != nil {
		t.Fatalf("Put: %v", err)
	}
	m.Add(s, config.ModeLeaf)

	if actions := m.Sweep(clock.Now()); len(actions) != 0 {
		t.Fatalf("actions = %+v, want none before grace expires", actions)
	}
	clock.Advance(m.cfg.ByeGraceTimeout + 1)
	actions := m.Sweep(clock.Now())
	if len(actions) != 1 || actions[0].Reason != "shutdown grace expired" {
		t.Fatalf("actions = %+v, want grace-expired finalize", actions)
	}
}

func TestErrorCounterCleanupExpiresBans(t *testing.T) {
	m, clock := newTestManager()
	m.BanVendor("acme")
	m.ErrorCounterCleanup(clock.Now())
	if _, banned := m.bannedVendors["acme"]; !banned {
		t.Fatal("ban should still be active before expiry")
	}
	clock.Advance(m.cfg.VendorBanDuration + 1)
	m.ErrorCounterCleanup(clock.Now())
	if _, banned := m.bannedVendors["acme"]; banned {
		t.Fatal("ban should have been cleaned up after expiry")
	}
}
