// Command servent runs a Gnutella-style overlay peer: it accepts inbound
// 0.6 handshakes, admits or refuses peers per the peer manager's policy,
// dispatches framed messages across the mesh, and exposes a Prometheus
// metrics endpoint over HTTP — adapted from the tcpinfo exporter mains'
// listener-loop and metrics-registration pattern into a long-running
// servent process.
package main

import (
	"context"
	"net"
	"net/http"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/gnutella-core/pkg/bandwidth"
	"github.com/simeonmiteff/gnutella-core/pkg/config"
	"github.com/simeonmiteff/gnutella-core/pkg/dispatch"
	"github.com/simeonmiteff/gnutella-core/pkg/metrics"
	"github.com/simeonmiteff/gnutella-core/pkg/peermgr"
	"github.com/simeonmiteff/gnutella-core/pkg/resolver"
	"github.com/simeonmiteff/gnutella-core/pkg/routing"
)

var (
	app          = kingpin.New("servent", "Gnutella-style overlay peer")
	listenAddr   = app.Flag("listen", "address to accept peer connections on").Default(":6346").String()
	metricsAddr  = app.Flag("metrics-listen", "address to serve Prometheus metrics on").Default(":9346").String()
	startAsUltra = app.Flag("ultrapeer", "start in ultrapeer mode instead of leaf mode").Bool()
	offline      = app.Flag("offline", "refuse all inbound connections on startup").Bool()
	connectTo    = app.Flag("connect", "dial one peer on startup (host:port), may be repeated").Strings()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config.Default()
	cfg.OnlineMode = !*offline
	if *startAsUltra {
		cfg.Mode = config.ModeUltra
	}

	clock := clockwork.NewRealClock()
	manager := peermgr.New(cfg, clock, log)

	routes, err := routing.New(routing.DefaultConfig, clock)
	if err != nil {
		log.WithError(err).Fatal("constructing routing table")
	}
	disp := dispatch.New(routes)
	sched := bandwidth.New(cfg.OutboundBytesPerSecond, cfg.OutboundBurstBytes)

	resolveResults := make(chan resolver.Result, 32)
	res := resolver.New(resolveResults)
	go logResolveResults(log, resolveResults)

	prometheus.MustRegister(metrics.NewCollector(manager))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	srv := &servent{
		cfg:       cfg,
		clock:     clock,
		log:       log,
		manager:   manager,
		disp:      disp,
		sched:     sched,
		res:       res,
		startedAt: clock.Now(),
		inbound:   make(chan inboundMsg, 256),
	}
	go srv.dispatchLoop()
	go srv.maintainSweep()
	go srv.maintainSlowTimer()
	go srv.maintainErrorCleanup()

	for _, addr := range *connectTo {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			res.Resolve(context.Background(), host)
		}
		go srv.dialPeer(addr)
	}

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.WithError(err).Fatal("listening for peer connections")
	}
	log.WithField("addr", *listenAddr).Info("servent listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.WithError(err).Error("accept failed")
			continue
		}
		go srv.acceptPeer(conn)
	}
}

func logResolveResults(log logrus.FieldLogger, results <-chan resolver.Result) {
	for r := range results {
		if r.Err != nil {
			log.WithField("host", r.Host).WithError(r.Err).Debug("host cache lookup failed")
			continue
		}
		log.WithField("host", r.Host).WithField("addrs", r.Addrs).Debug("host cache lookup resolved")
	}
}
