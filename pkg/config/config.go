// Package config holds the single configuration value threaded through the
// peer manager and its collaborators: slot caps, timers and policy knobs.
// There is deliberately no package-level mutable state here; callers build
// a Config and pass it by value into the constructors that need it.
package config

import "time"

// Mode is a servent's own operating mode, or a remote peer's advertised
// mode during admission.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeNormal
	ModeUltra
	ModeLeaf
	ModeCrawler
	ModeUDP
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeUltra:
		return "ultra"
	case ModeLeaf:
		return "leaf"
	case ModeCrawler:
		return "crawler"
	case ModeUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// Config collects every tunable the peer manager, MQ and sessions consult.
// Zero value is not meaningful; use Default as a starting point.
type Config struct {
	OnlineMode bool
	Mode       Mode

	// Slot caps.
	MaxConnections    int // total connection ceiling in ultra mode
	NormalConnections int // slots reserved for legacy "normal" peers
	MaxLeaves         int
	MaxUltrapeers     int // ultra parents to keep when in leaf mode

	PreferCompressed bool

	// Anti-monopoly / reserved-slot policy, expressed as fractions in
	// [0, 1] of the relevant slot pool.
	AntiMonopolyFraction float64
	ReservedSlotFraction float64
	ReservedVendorPrefix string

	LeafGraceSeconds int // hops-flow-throttled grace before a leaf is useless

	RxFlowControlCeilingLeaf  float64
	RxFlowControlCeilingUltra float64

	SweepInterval        time.Duration
	SlowInterval         time.Duration
	ErrorCounterInterval time.Duration

	AlivePingInterval time.Duration
	ActivityTimeout   time.Duration
	ByeGraceTimeout   time.Duration

	VendorBanDuration time.Duration

	// ModeCooldownInitial and ModeCooldownCeiling bound the self
	// promotion/demotion cooldown: it doubles on each flip up to the
	// ceiling.
	ModeCooldownInitial time.Duration
	ModeCooldownCeiling time.Duration

	// OutboundBytesPerSecond and OutboundBurstBytes size the shared
	// bandwidth scheduler every session's write loop draws from.
	OutboundBytesPerSecond int
	OutboundBurstBytes     int

	// SendBufferBytes is the SO_SNDBUF size requested before writing a
	// bye, so the farewell has a better chance of landing in one
	// kernel-buffered write.
	SendBufferBytes int
}

// Default returns a Config with conservative, documented defaults.
func Default() Config {
	return Config{
		OnlineMode:                true,
		Mode:                      ModeLeaf,
		MaxConnections:            32,
		NormalConnections:         2,
		MaxLeaves:                 200,
		MaxUltrapeers:             3,
		PreferCompressed:          true,
		AntiMonopolyFraction:      0.2,
		ReservedSlotFraction:      0.1,
		ReservedVendorPrefix:      "",
		LeafGraceSeconds:          180,
		RxFlowControlCeilingLeaf:  0.95,
		RxFlowControlCeilingUltra: 0.98,
		SweepInterval:             time.Second,
		SlowInterval:              time.Minute,
		ErrorCounterInterval:      time.Minute,
		AlivePingInterval:         2 * time.Minute,
		ActivityTimeout:           5 * time.Minute,
		ByeGraceTimeout:           10 * time.Second,
		VendorBanDuration:         30 * time.Minute,
		ModeCooldownInitial:       5 * time.Minute,
		ModeCooldownCeiling:       2 * time.Hour,
		OutboundBytesPerSecond:    256 * 1024,
		OutboundBurstBytes:        64 * 1024,
		SendBufferBytes:           256 * 1024,
	}
}
