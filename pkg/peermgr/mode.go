package peermgr

import (
	"time"

	"github.com/simeonmiteff/gnutella-core/pkg/config"
	"github.com/simeonmiteff/gnutella-core/pkg/session"
)

// PromotionSignals are the inputs to the slow timer's peermode
// self-promotion/demotion evaluation.
type PromotionSignals struct {
	Uptime           time.Duration
	BandwidthOK      bool
	FDHeadroomOK     bool
	MemoryHeadroomOK bool
	HasLeaves        bool
	GoodUDP          bool
}

const promotionMinUptime = 30 * time.Minute

// RequestModeChange buffers an operator-requested peermode change. It is
// applied by ApplyPendingModeChange on the next timer tick rather than
// synchronously, so an in-flight handshake is never disturbed mid-parse.
func (m *Manager) RequestModeChange(mode config.Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mm := mode
	m.pendingMode = &mm
}

// EvaluateModeFlip runs the slow timer's self-promotion/demotion check. It
// respects the cooldown from the last flip (doubling on each successful
// flip up to ModeCooldownCeiling) and buffers a mode change request when
// warranted, returning whether it did.
func (m *Manager) EvaluateModeFlip(now time.Time, sig PromotionSignals) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastModeFlip.IsZero() && now.Sub(m.lastModeFlip) < m.modeCooldown {
		return false
	}

	var next config.Mode
	switch m.cfg.Mode {
	case config.ModeLeaf:
		if sig.Uptime >= promotionMinUptime && sig.BandwidthOK && sig.FDHeadroomOK &&
			sig.MemoryHeadroomOK && sig.GoodUDP {
			next = config.ModeUltra
		}
	case config.ModeUltra:
		if !sig.BandwidthOK || !sig.FDHeadroomOK || !sig.MemoryHeadroomOK {
			next = config.ModeLeaf
		}
	default:
		return false
	}
	if next == config.ModeUnknown || next == m.cfg.Mode {
		return false
	}

	mm := next
	m.pendingMode = &mm
	return true
}

// ApplyPendingModeChange applies a buffered peermode change, if any. It
// returns the sessions that must be byed because they no longer fit the
// new mode (leaves when becoming a leaf, upstream ultra parents when
// becoming an ultra) and whether a change was applied.
func (m *Manager) ApplyPendingModeChange(now time.Time) ([]session.ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pendingMode == nil {
		return nil, false
	}
	next := *m.pendingMode
	m.pendingMode = nil
	if next == m.cfg.Mode {
		return nil, false
	}

	var bye []session.ID
	var wantKind config.Mode
	switch next {
	case config.ModeUltra:
		wantKind = config.ModeUltra // bye our former upstream ultra parents
	case config.ModeLeaf:
		wantKind = config.ModeLeaf // bye our leaves
	}
	if wantKind != config.ModeUnknown {
		for id, mode := range m.modes {
			if mode == wantKind {
				bye = append(bye, id)
			}
		}
	}

	if m.log != nil {
		m.log.WithField("from", m.cfg.Mode).WithField("to", next).WithField("bye_count", len(bye)).
			Info("peermode changed")
	}

	m.cfg.Mode = next
	m.lastModeFlip = now
	m.modeCooldown *= 2
	if m.modeCooldown > m.cfg.ModeCooldownCeiling {
		m.modeCooldown = m.cfg.ModeCooldownCeiling
	}
	return bye, true
}
