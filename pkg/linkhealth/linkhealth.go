// Package linkhealth scores a peer session's TCP-level health from the
// tcp_info samples LinkConn captures, feeding the peer manager's periodic
// eviction sweep.
package linkhealth

import "github.com/simeonmiteff/gnutella-core/pkg/tcpinfo"

// Score summarizes how unhealthy a link looks. Higher is worse.
type Score struct {
	// Weird counts symptoms that don't individually justify a kick but
	// together suggest a flaky or congested path (retransmits, a closed
	// sample markedly worse than the opened one).
	Weird int
	// Warnings carries the underlying tcp_info warning strings for
	// logging.
	Warnings []string
}

// Evaluate inspects a session's opened/closed tcp_info samples (closed may
// be nil for a still-live session) and produces a Score.
func Evaluate(opened, closed *tcpinfo.Info) Score {
	var s Score
	if opened != nil {
		s.ingest(opened)
	}
	if closed != nil {
		s.ingest(closed)
		if opened != nil && closed.Retransmits > opened.Retransmits {
			s.Weird++
		}
	}
	return s
}

func (s *Score) ingest(info *tcpinfo.Info) {
	if info.Retransmits > 0 {
		s.Weird++
	}
	s.Warnings = append(s.Warnings, info.Sys.Warnings()...)
	s.Weird += len(info.Sys.Warnings())
}
