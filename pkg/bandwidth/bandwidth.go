// Package bandwidth implements the shared outbound bandwidth scheduler: a
// token bucket budget split across sessions, with a temporary boost for
// urgent (typically UDP flow-control) traffic.
package bandwidth

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Scheduler wraps a shared token bucket. All session writers draw from the
// same Scheduler so the process-wide outbound rate stays within the
// configured budget regardless of how many sessions are active.
type Scheduler struct {
	limiter      *rate.Limiter
	urgentBurst  int
	urgentActive bool
}

// New constructs a Scheduler allowing bytesPerSecond sustained throughput
// with burst headroom of burstBytes.
func New(bytesPerSecond int, burstBytes int) *Scheduler {
	return &Scheduler{
		limiter:     rate.NewLimiter(rate.Limit(bytesPerSecond), burstBytes),
		urgentBurst: burstBytes,
	}
}

// Reserve blocks (respecting ctx) until n bytes may be sent, then debits
// them from the budget.
func (s *Scheduler) Reserve(ctx context.Context, n int) error {
	return s.limiter.WaitN(ctx, n)
}

// TryReserve attempts to debit n bytes without blocking, reporting whether
// the budget currently allows it. The event loop uses this on its
// non-blocking write path rather than Reserve, which would stall the whole
// cooperative loop.
func (s *Scheduler) TryReserve(n int) bool {
	return s.limiter.AllowN(time.Now(), n)
}

// SetUrgent enables or disables the urgent boost: while it is on, the
// bucket's burst size is twice the configured burstBytes. The sustained
// rate is unchanged.
func (s *Scheduler) SetUrgent(on bool) {
	if on == s.urgentActive {
		return
	}
	s.urgentActive = on
	if on {
		s.limiter.SetBurst(s.urgentBurst * 2)
	} else {
		s.limiter.SetBurst(s.urgentBurst)
	}
}

// IsUrgent reports whether the urgent boost is currently active.
func (s *Scheduler) IsUrgent() bool {
	return s.urgentActive
}
