package resolver

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestResolveDeliversResult(t *testing.T) {
	results := make(chan Result, 1)
	r := New(results)
	r.lookupIP = func(ctx context.Context, host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("127.0.0.1")}, nil
	}

	r.Resolve(context.Background(), "example.invalid")

	select {
	case got := <-results:
		if got.Host != "example.invalid" {
			t.Fatalf("Host = %q", got.Host)
		}
		if len(got.Addrs) != 1 || !got.Addrs[0].Equal(net.ParseIP("127.0.0.1")) {
			t.Fatalf("Addrs = %v", got.Addrs)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolve result")
	}
}

func TestResolveCoalescesConcurrentLookups(t *testing.T) {
	results := make(chan Result, 2)
	r := New(results)

	var calls int32
	block := make(chan struct{})
	r.lookupIP = func(ctx context.Context, host string) ([]net.IP, error) {
		atomic.AddInt32(&calls, 1)
		<-block
		return []net.IP{net.ParseIP("10.0.0.1")}, nil
	}

	r.Resolve(context.Background(), "dup.invalid")
	r.Resolve(context.Background(), "dup.invalid")
	close(block)

	for i := 0; i < 2; i++ {
		select {
		case <-results:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for resolve results")
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("lookupIP called %d times, want 1 (coalesced)", got)
	}
}
