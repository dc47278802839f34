package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/simeonmiteff/gnutella-core/pkg/session"
)

type fakeSource struct {
	snapshot []SessionSnapshot
}

func (f fakeSource) Snapshot() []SessionSnapshot { return f.snapshot }

func TestCollectEmitsPerSessionMetrics(t *testing.T) {
	src := fakeSource{snapshot: []SessionSnapshot{
		{
			ID:             7,
			State:          session.StateConnected,
			Vendor:         "LIME",
			QueueBytes:     1234,
			QueueMessages:  3,
			FlowControlled: true,
		},
	}}
	c := NewCollector(src)

	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)

	var found bool
	for m := range ch {
		var out dto.Metric
		if err := m.Write(&out); err != nil {
			t.Fatalf("Write: %v", err)
		}
		desc := m.Desc().String()
		if containsSubstring(desc, "gnutella_session_queue_bytes") {
			found = true
			if out.GetGauge().GetValue() != 1234 {
				t.Errorf("queue bytes = %v, want 1234", out.GetGauge().GetValue())
			}
		}
	}
	if !found {
		t.Fatal("did not find gnutella_session_queue_bytes metric")
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
