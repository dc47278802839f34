// Package resolver implements asynchronous DNS resolution for peer
// hostnames (GWebCache bootstrap entries, DNS-based host cache results):
// lookups run on background goroutines, duplicate in-flight lookups for
// the same name are coalesced, and results are posted back onto the
// caller-supplied channel so the single-threaded event loop can consume
// them without its own locking.
package resolver

import (
	"context"
	"net"

	"golang.org/x/sync/singleflight"
)

// Result is a completed (possibly failed) lookup, posted back to the
// event loop's channel.
type Result struct {
	Host string
	Addrs []net.IP
	Err   error
}

// Resolver issues coalesced background DNS lookups.
type Resolver struct {
	group    singleflight.Group
	lookupIP func(ctx context.Context, host string) ([]net.IP, error)
	results  chan<- Result
}

// New constructs a Resolver that posts completed lookups to results. The
// caller owns results and is expected to drain it from the event loop.
func New(results chan<- Result) *Resolver {
	return &Resolver{
		lookupIP: func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		},
		results: results,
	}
}

// Resolve starts (or joins an in-flight) lookup for host in the
// background. The result, once available, is sent to the Resolver's
// results channel; Resolve itself never blocks.
func (r *Resolver) Resolve(ctx context.Context, host string) {
	go func() {
		v, err, _ := r.group.Do(host, func() (any, error) {
			return r.lookupIP(ctx, host)
		})
		var addrs []net.IP
		if v != nil {
			addrs = v.([]net.IP)
		}
		r.results <- Result{Host: host, Addrs: addrs, Err: err}
	}()
}
