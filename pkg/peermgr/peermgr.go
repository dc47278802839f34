// Package peermgr implements the peer manager: the set of live sessions,
// slot accounting, admission control at handshake time, worst-peer
// eviction, vendor bans, and the periodic timers that sweep sessions and
// evaluate peermode self-promotion/demotion.
package peermgr

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/gnutella-core/pkg/config"
	"github.com/simeonmiteff/gnutella-core/pkg/handshake"
	"github.com/simeonmiteff/gnutella-core/pkg/linkhealth"
	"github.com/simeonmiteff/gnutella-core/pkg/metrics"
	"github.com/simeonmiteff/gnutella-core/pkg/session"
)

// AdmitRequest describes an incoming (or outgoing) peer at handshake time.
type AdmitRequest struct {
	RemoteMode  config.Mode
	Vendor      string
	RemoteAddr  string
	Crawler     bool
	Compressed  bool
}

// AdmitResult is the peer manager's admission decision.
type AdmitResult struct {
	Accept bool
	Status handshake.Status
	Reason string

	// Evict, when non-zero, names a session the caller must bye (202) to
	// make room before completing admission. It is only ever set alongside
	// Accept == true.
	Evict session.ID
}

func (m *Manager) reject(req AdmitRequest, status handshake.Status, reason string) AdmitResult {
	if m.log != nil {
		m.log.WithField("addr", req.RemoteAddr).WithField("vendor", req.Vendor).
			WithField("status", int(status)).Info("admission refused: " + reason)
	}
	return AdmitResult{Accept: false, Status: status, Reason: reason}
}

func accept() AdmitResult {
	return AdmitResult{Accept: true, Status: handshake.StatusOK}
}

// vendorSlot tracks how many connected peers, and of which kind, belong to
// one normalized vendor family.
type vendorSlot struct {
	ultra  int
	leaf   int
	normal int
}

// Manager owns the live session set and every piece of admission, eviction
// and timer state that spans sessions.
type Manager struct {
	cfg   config.Config
	clock clockwork.Clock
	log   logrus.FieldLogger

	mu       sync.Mutex
	sessions map[session.ID]*session.Session
	modes    map[session.ID]config.Mode

	ultraCount  int
	leafCount   int
	normalCount int

	vendorSlots   map[string]*vendorSlot
	bannedVendors map[string]time.Time

	pendingMode   *config.Mode
	lastModeFlip  time.Time
	modeCooldown  time.Duration
}

// New constructs a Manager with no sessions.
func New(cfg config.Config, clock clockwork.Clock, log logrus.FieldLogger) *Manager {
	return &Manager{
		cfg:           cfg,
		clock:         clock,
		log:           log,
		sessions:      make(map[session.ID]*session.Session),
		modes:         make(map[session.ID]config.Mode),
		vendorSlots:   make(map[string]*vendorSlot),
		bannedVendors: make(map[string]time.Time),
		modeCooldown:  cfg.ModeCooldownInitial,
	}
}

// Config returns the manager's current configuration.
func (m *Manager) Config() config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Count returns the number of sessions currently tracked in each slot kind.
func (m *Manager) Count() (ultra, leaf, normal int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ultraCount, m.leafCount, m.normalCount
}

// Admit decides whether a peer may proceed to StateConnected, per the
// online-mode, crawler, slot, prefer-compressed, anti-monopoly,
// reserved-slot and vendor-ban rules.
func (m *Manager) Admit(req AdmitRequest) AdmitResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.OnlineMode {
		return m.reject(req, handshake.StatusForbidden, "not accepting connections")
	}
	if req.Crawler {
		return accept()
	}

	family := NormalizeVendor(req.Vendor)
	if until, banned := m.bannedVendors[family]; banned && m.clock.Now().Before(until) {
		return m.reject(req, handshake.StatusForbidden, "vendor temporarily banned")
	}

	switch m.cfg.Mode {
	case config.ModeUltra:
		switch req.RemoteMode {
		case config.ModeLeaf:
			if m.leafCount >= m.cfg.MaxLeaves {
				if id, ok := m.evictUselessLeafLocked(); ok {
					return AdmitResult{Accept: true, Status: handshake.StatusOK, Evict: id}
				}
				return m.reject(req, handshake.StatusServiceUnavailable, "leaf slots full")
			}
		case config.ModeUltra, config.ModeNormal:
			ultraCap := m.cfg.MaxConnections - m.cfg.NormalConnections
			if m.ultraCount >= ultraCap {
				if id, ok := m.evictUselessOrUncompressedUltraLocked(); ok {
					return AdmitResult{Accept: true, Status: handshake.StatusOK, Evict: id}
				}
				return m.reject(req, handshake.StatusServiceUnavailable, "ultrapeer slots full")
			}
		default:
			return m.reject(req, handshake.StatusForbidden, "unsupported remote mode for ultra node")
		}
	case config.ModeLeaf:
		if req.RemoteMode != config.ModeUltra {
			return m.reject(req, handshake.StatusForbidden, "leaf only accepts ultrapeer parents")
		}
		if m.ultraCount >= m.cfg.MaxUltrapeers {
			return m.reject(req, handshake.StatusServiceUnavailable, "ultrapeer parent slots full")
		}
	}

	if m.cfg.PreferCompressed && !req.Compressed && m.enoughCompressedLocked() {
		return m.reject(req, handshake.StatusNotAcceptable, "prefer compressed peers")
	}

	if family != "" {
		if m.wouldMonopolizeLocked(family, req.RemoteMode) {
			return m.reject(req, handshake.StatusForbidden, "vendor would exceed anti-monopoly share")
		}
	}

	reserved := NormalizeVendor(m.cfg.ReservedVendorPrefix)
	if reserved != "" && family != reserved && m.wouldExhaustReservedSlotLocked(req.RemoteMode) {
		return m.reject(req, handshake.StatusConflict, "slot reserved for preferred vendor family")
	}

	return accept()
}

// enoughCompressedLocked is a placeholder hook: without per-session
// compression accounting wired in yet it conservatively reports false
// (never refuses on prefer-compressed grounds). Populated once the caller
// threads Flags.Has(session.FlagDeflate) counts through AddLocked.
func (m *Manager) enoughCompressedLocked() bool {
	return false
}

// minMonopolySample is the smallest pre-admission slot-kind population the
// anti-monopoly rule judges at all: below it, one peer is necessarily a
// large fraction of the pool and the rule would do nothing but reject the
// first few connections of any vendor.
const minMonopolySample = 4

func (m *Manager) wouldMonopolizeLocked(family string, kind config.Mode) bool {
	slot := m.vendorSlots[family]
	var held, current int
	switch kind {
	case config.ModeUltra:
		current = m.ultraCount
		if slot != nil {
			held = slot.ultra
		}
	case config.ModeLeaf:
		current = m.leafCount
		if slot != nil {
			held = slot.leaf
		}
	default:
		current = m.normalCount
		if slot != nil {
			held = slot.normal
		}
	}
	if current < minMonopolySample {
		return false
	}
	return float64(held+1)/float64(current+1) > m.cfg.AntiMonopolyFraction
}

// wouldExhaustReservedSlotLocked reports whether admitting one more
// non-reserved-vendor peer of kind would leave fewer than the configured
// reserved fraction of that slot pool free for the preferred vendor
// family.
func (m *Manager) wouldExhaustReservedSlotLocked(kind config.Mode) bool {
	var used, limit int
	switch kind {
	case config.ModeUltra:
		used, limit = m.ultraCount, m.cfg.MaxConnections-m.cfg.NormalConnections
	case config.ModeLeaf:
		used, limit = m.leafCount, m.cfg.MaxLeaves
	default:
		return false
	}
	if limit <= 0 {
		return false
	}
	reservedSlots := int(m.cfg.ReservedSlotFraction * float64(limit))
	return limit-(used+1) < reservedSlots
}

// evictUselessLeafLocked finds a leaf session matching the "useless leaf"
// test and returns its id, without removing it: the caller is expected to
// bye it with 202 and call Remove once the bye is sent.
func (m *Manager) evictUselessLeafLocked() (session.ID, bool) {
	now := m.clock.Now()
	var candidates []session.ID
	for id, s := range m.sessions {
		if m.modes[id] != config.ModeLeaf {
			continue
		}
		if s.IsUselessLeaf(m.cfg.LeafGraceSeconds, now) {
			candidates = append(candidates, id)
		}
	}
	return pickRandom(candidates)
}

// evictUselessOrUncompressedUltraLocked finds an ultra session that is
// either useless by the same leaf-style test or not using compression.
func (m *Manager) evictUselessOrUncompressedUltraLocked() (session.ID, bool) {
	now := m.clock.Now()
	var candidates []session.ID
	for id, s := range m.sessions {
		if m.modes[id] != config.ModeUltra {
			continue
		}
		if s.IsUselessLeaf(m.cfg.LeafGraceSeconds, now) || !s.Flags.Has(session.FlagDeflate) {
			candidates = append(candidates, id)
		}
	}
	return pickRandom(candidates)
}

// EvictWorst scores every connected session as 100*weird + 10*bad + dups
// and returns a random session among the highest scorers, for making room
// for a whitelisted or nearby incoming peer.
func (m *Manager) EvictWorst() (session.ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	best := -1
	var worst []session.ID
	for id, s := range m.sessions {
		score := s.Counters.Score() + 100*s.Health.Weird
		switch {
		case score > best:
			best = score
			worst = []session.ID{id}
		case score == best:
			worst = append(worst, id)
		}
	}
	id, ok := pickRandom(worst)
	if ok && m.log != nil {
		m.log.WithField("session", id).WithField("score", best).Info("evicting worst peer")
	}
	return id, ok
}

func pickRandom(ids []session.ID) (session.ID, bool) {
	if len(ids) == 0 {
		return 0, false
	}
	return ids[rand.Intn(len(ids))], true
}

// Add registers a newly connected session under the given advertised mode,
// incrementing the relevant slot counter exactly once.
func (m *Manager) Add(s *session.Session, mode config.Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.ID] = s
	m.modes[s.ID] = mode
	switch mode {
	case config.ModeUltra:
		m.ultraCount++
	case config.ModeLeaf:
		m.leafCount++
	default:
		m.normalCount++
	}

	family := NormalizeVendor(s.Vendor)
	slot := m.vendorSlots[family]
	if slot == nil {
		slot = &vendorSlot{}
		m.vendorSlots[family] = slot
	}
	switch mode {
	case config.ModeUltra:
		slot.ultra++
	case config.ModeLeaf:
		slot.leaf++
	default:
		slot.normal++
	}
}

// Remove detaches a session, decrementing its slot counter exactly once.
// It is a no-op if id is not tracked (idempotent against double-teardown).
func (m *Manager) Remove(id session.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

func (m *Manager) removeLocked(id session.ID) {
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	mode := m.modes[id]
	switch mode {
	case config.ModeUltra:
		m.ultraCount--
	case config.ModeLeaf:
		m.leafCount--
	default:
		m.normalCount--
	}
	if slot := m.vendorSlots[NormalizeVendor(s.Vendor)]; slot != nil {
		switch mode {
		case config.ModeUltra:
			slot.ultra--
		case config.ModeLeaf:
			slot.leaf--
		default:
			slot.normal--
		}
	}
	delete(m.sessions, id)
	delete(m.modes, id)
}

// BanVendor bans a normalized vendor family for the configured duration.
func (m *Manager) BanVendor(family string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until := m.clock.Now().Add(m.cfg.VendorBanDuration)
	m.bannedVendors[family] = until
	if m.log != nil {
		m.log.WithField("vendor", family).WithField("until", until).Info("vendor banned")
	}
}

// RecordLinkHealth stores the most recent link-health score for a session,
// consulted by EvictWorst and the per-second sweep.
func (m *Manager) RecordLinkHealth(id session.ID, score linkhealth.Score) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Health = score
	}
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Snapshot implements metrics.SessionSource over the live session table.
func (m *Manager) Snapshot() []metrics.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]metrics.SessionSnapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		snap := metrics.SessionSnapshot{
			ID:       s.ID,
			State:    s.State,
			Vendor:   s.Vendor,
			Counters: s.Counters,
			Health:   s.Health,
		}
		if s.Queue != nil {
			snap.QueueBytes = s.Queue.Size()
			snap.QueueMessages = s.Queue.Count()
			snap.FlowControlled = s.Queue.IsFlowControlled()
			snap.SwiftControlled = s.Queue.IsSwiftControlled()
		}
		out = append(out, snap)
	}
	return out
}
