package peermgr

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/gnutella-core/pkg/config"
	"github.com/simeonmiteff/gnutella-core/pkg/handshake"
	"github.com/simeonmiteff/gnutella-core/pkg/mq"
	"github.com/simeonmiteff/gnutella-core/pkg/session"
)

func testConfig() config.Config {
	c := config.Default()
	c.MaxLeaves = 2
	c.MaxConnections = 4
	c.NormalConnections = 0
	c.MaxUltrapeers = 1
	c.Mode = config.ModeUltra
	c.LeafGraceSeconds = 60
	c.AntiMonopolyFraction = 0.5
	c.ReservedSlotFraction = 0
	return c
}

func newTestSession(id session.ID, vendor string, clock clockwork.Clock) *session.Session {
	q := mq.New(mq.DefaultWatermarks, 7)
	s := session.New(id, nil, q, false, clock)
	s.Vendor = vendor
	s.HasQRT = true
	s.FilesShared = 1
	_ = s.Transition(session.StateReceivingHello)
	_ = s.Transition(session.StateWelcomeSent)
	_ = s.Transition(session.StateConnected)
	return s
}

func newTestManager() (*Manager, clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	log := logrus.New()
	log.SetOutput(testDiscard{})
	return New(testConfig(), clock, log), clock
}

type testDiscard struct{}

func (testDiscard) Write(p []byte) (int, error) { return len(p), nil }

func TestAdmitOnlineModeOff(t *testing.T) {
	m, _ := newTestManager()
	m.cfg.OnlineMode = false
	res := m.Admit(AdmitRequest{RemoteMode: config.ModeLeaf})
	if res.Accept || res.Status != handshake.StatusForbidden {
		t.Fatalf("got %+v, want reject 403", res)
	}
}

func TestAdmitCrawlerBypassesSlots(t *testing.T) {
	m, clock := newTestManager()
	for i := 0; i < m.cfg.MaxLeaves; i++ {
		m.Add(newTestSession(session.ID(i+1), "acme", clock), config.ModeLeaf)
	}
	res := m.Admit(AdmitRequest{Crawler: true, RemoteMode: config.ModeLeaf})
	if !res.Accept {
		t.Fatalf("crawler should always be accepted, got %+v", res)
	}
}

func TestAdmitLeafSlotsFullRejectsWithoutUselessCandidate(t *testing.T) {
	m, clock := newTestManager()
	for i := 0; i < m.cfg.MaxLeaves; i++ {
		m.Add(newTestSession(session.ID(i+1), "acme", clock), config.ModeLeaf)
	}
	res := m.Admit(AdmitRequest{RemoteMode: config.ModeLeaf})
	if res.Accept || res.Status != handshake.StatusServiceUnavailable {
		t.Fatalf("got %+v, want reject 503 (no useless leaf to evict)", res)
	}
}

func TestAdmitLeafSlotsFullEvictsUselessLeaf(t *testing.T) {
	m, clock := newTestManager()
	useless := newTestSession(1, "acme", clock)
	useless.HasQRT = false
	m.Add(useless, config.ModeLeaf)
	m.Add(newTestSession(2, "other", clock), config.ModeLeaf)

	res := m.Admit(AdmitRequest{RemoteMode: config.ModeLeaf})
	if !res.Accept || res.Evict != 1 {
		t.Fatalf("got %+v, want accept with Evict=1", res)
	}
}

func TestAdmitLeafOnlyAcceptsUltraParent(t *testing.T) {
	m, _ := newTestManager()
	m.cfg.Mode = config.ModeLeaf
	res := m.Admit(AdmitRequest{RemoteMode: config.ModeNormal})
	if res.Accept || res.Status != handshake.StatusForbidden {
		t.Fatalf("got %+v, want reject (leaf only accepts ultra parents)", res)
	}
}

func TestAdmitVendorBan(t *testing.T) {
	m, clock := newTestManager()
	m.BanVendor("acme")
	res := m.Admit(AdmitRequest{RemoteMode: config.ModeLeaf, Vendor: "acme/3.0"})
	if res.Accept || res.Status != handshake.StatusForbidden {
		t.Fatalf("got %+v, want reject (vendor banned)", res)
	}
	clock.Advance(m.cfg.VendorBanDuration + time.Second)
	res = m.Admit(AdmitRequest{RemoteMode: config.ModeLeaf, Vendor: "acme/3.0"})
	if !res.Accept {
		t.Fatalf("got %+v, want accept after ban expires", res)
	}
}

func TestAdmitAntiMonopoly(t *testing.T) {
	m, clock := newTestManager()
	m.cfg.AntiMonopolyFraction = 0.3
	m.cfg.MaxLeaves = 100 // large enough that the slot cap never gates this test
	for i := 0; i < minMonopolySample; i++ {
		m.Add(newTestSession(session.ID(i+1), "acme", clock), config.ModeLeaf)
	}
	res := m.Admit(AdmitRequest{RemoteMode: config.ModeLeaf, Vendor: "acme/2.0"})
	if res.Accept {
		t.Fatalf("got %+v, want reject (vendor would exceed anti-monopoly share)", res)
	}
}

func TestAdmitAntiMonopolyIgnoresSmallSamples(t *testing.T) {
	m, clock := newTestManager()
	m.cfg.AntiMonopolyFraction = 0.3
	m.Add(newTestSession(1, "acme", clock), config.ModeLeaf)
	res := m.Admit(AdmitRequest{RemoteMode: config.ModeLeaf, Vendor: "acme/2.0"})
	if !res.Accept {
		t.Fatalf("got %+v, want accept (sample too small to judge monopoly)", res)
	}
}

func TestAddRemoveCounts(t *testing.T) {
	m, clock := newTestManager()
	m.Add(newTestSession(1, "acme", clock), config.ModeLeaf)
	m.Add(newTestSession(2, "acme", clock), config.ModeUltra)
	ultra, leaf, normal := m.Count()
	if ultra != 1 || leaf != 1 || normal != 0 {
		t.Fatalf("got ultra=%d leaf=%d normal=%d", ultra, leaf, normal)
	}
	m.Remove(1)
	ultra, leaf, normal = m.Count()
	if leaf != 0 {
		t.Fatalf("leaf count after remove = %d, want 0", leaf)
	}
	m.Remove(1) // idempotent
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
}

func TestEvictWorstPicksHighestScore(t *testing.T) {
	m, clock := newTestManager()
	quiet := newTestSession(1, "acme", clock)
	noisy := newTestSession(2, "acme", clock)
	noisy.Counters.Weird = 5
	noisy.Counters.Bad = 2
	m.Add(quiet, config.ModeLeaf)
	m.Add(noisy, config.ModeLeaf)

	id, ok := m.EvictWorst()
	if !ok || id != 2 {
		t.Fatalf("EvictWorst() = (%v, %v), want (2, true)", id, ok)
	}
}
