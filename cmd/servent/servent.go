package main

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/gnutella-core/pkg/bandwidth"
	"github.com/simeonmiteff/gnutella-core/pkg/config"
	"github.com/simeonmiteff/gnutella-core/pkg/deflate"
	"github.com/simeonmiteff/gnutella-core/pkg/dispatch"
	"github.com/simeonmiteff/gnutella-core/pkg/handshake"
	"github.com/simeonmiteff/gnutella-core/pkg/peermgr"
	"github.com/simeonmiteff/gnutella-core/pkg/resolver"
	"github.com/simeonmiteff/gnutella-core/pkg/session"
	"github.com/simeonmiteff/gnutella-core/pkg/sockopt"
	"github.com/simeonmiteff/gnutella-core/pkg/wire"
)

// ourAgent identifies this servent in the handshake's User-Agent header.
const ourAgent = "gnutella-core/0.1"

// servent owns the collaborators a connected peer's read/write loops and
// the single dispatch goroutine share: the peer manager, the routing
// decision, the shared bandwidth budget and the async resolver.
type servent struct {
	cfg       config.Config
	clock     clockwork.Clock
	log       logrus.FieldLogger
	manager   *peermgr.Manager
	disp      *dispatch.Dispatcher
	sched     *bandwidth.Scheduler
	res       *resolver.Resolver
	startedAt time.Time

	inbound chan inboundMsg
}

// inboundMsg is one fully-framed message handed from a session's read loop
// to the dispatch goroutine.
type inboundMsg struct {
	from    *session.Session
	isLeaf  bool
	header  wire.Header
	payload []byte
}

// peerConn pairs a session with the reader/writer its read/write loops
// actually use — which may be deflate-wrapped over the raw link.
type peerConn struct {
	sess   *session.Session
	reader io.Reader
	writer io.Writer
}

func (s *servent) acceptPeer(conn net.Conn) {
	log := s.log.WithField("remote", conn.RemoteAddr().String())
	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	reqHeaders, err := handshake.ReadConnectRequest(br)
	if err != nil {
		log.WithError(err).Debug("handshake leg 1 failed")
		conn.Close()
		return
	}

	req := admitRequestFromHeaders(reqHeaders, conn.RemoteAddr().String())
	result := s.manager.Admit(req)

	respHeaders := handshake.NewHeaders()
	respHeaders.Set("User-Agent", ourAgent)
	respHeaders.Set("X-Ultrapeer", strconv.FormatBool(s.cfg.Mode == config.ModeUltra))
	compressed := req.Compressed && s.cfg.PreferCompressed
	if compressed {
		respHeaders.Set("Content-Encoding", "deflate")
	}

	if err := handshake.WriteResponse(bw, handshake.Response{Status: result.Status, Headers: respHeaders}); err != nil {
		log.WithError(err).Debug("writing handshake leg 2")
		conn.Close()
		return
	}
	if !result.Accept {
		log.WithField("reason", result.Reason).Info("inbound peer refused")
		conn.Close()
		return
	}

	confirm, err := handshake.ReadResponse(br)
	if err != nil || confirm.Status != handshake.StatusOK {
		log.WithError(err).Debug("handshake leg 3 rejected or malformed")
		conn.Close()
		return
	}

	if result.Evict != 0 {
		s.byeAndRemove(result.Evict, "making room for new peer")
	}

	s.establish(conn, br, req, compressed, false, log)
}

func (s *servent) dialPeer(addr string) {
	log := s.log.WithField("remote", addr)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.WithError(err).Debug("dial failed")
		return
	}
	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	ourHeaders := handshake.NewHeaders()
	ourHeaders.Set("User-Agent", ourAgent)
	ourHeaders.Set("X-Ultrapeer", strconv.FormatBool(s.cfg.Mode == config.ModeUltra))
	ourHeaders.Set("Accept-Encoding", "deflate")

	if err := handshake.WriteConnectRequest(bw, ourHeaders); err != nil {
		log.WithError(err).Debug("writing handshake leg 1")
		conn.Close()
		return
	}
	resp, err := handshake.ReadResponse(br)
	if err != nil {
		log.WithError(err).Debug("reading handshake leg 2")
		conn.Close()
		return
	}
	if resp.Status != handshake.StatusOK {
		log.WithField("status", int(resp.Status)).Info("peer refused outbound connect")
		conn.Close()
		return
	}

	compressed := false
	if enc, ok := resp.Headers.Get("Content-Encoding"); ok {
		compressed = strings.Contains(strings.ToLower(enc), "deflate")
	}

	confirmHeaders := handshake.NewHeaders()
	confirmHeaders.Set("User-Agent", ourAgent)
	if err := handshake.WriteResponse(bw, handshake.Response{Status: handshake.StatusOK, Headers: confirmHeaders}); err != nil {
		log.WithError(err).Debug("writing handshake leg 3")
		conn.Close()
		return
	}

	vendor, _ := resp.Headers.Get("User-Agent")
	req := peermgr.AdmitRequest{
		RemoteMode: config.ModeUltra,
		Vendor:     vendor,
		RemoteAddr: addr,
		Compressed: compressed,
	}
	s.establish(conn, br, req, compressed, true, log)
}

// establish finishes setting up a session once the handshake has succeeded
// in both directions: it wraps the link, negotiates compression, registers
// the session with the peer manager and starts its read/write loops.
func (s *servent) establish(conn net.Conn, br *bufio.Reader, req peermgr.AdmitRequest, compressed, outbound bool, log logrus.FieldLogger) {
	link := session.WrapLink(conn, s.clock)
	q := newQueue()
	sess := session.New(session.ID(nextSessionID()), link, q, outbound, s.clock)
	sess.Vendor = req.Vendor
	sess.RemoteAddr = req.RemoteAddr
	if req.RemoteMode == config.ModeUltra {
		sess.Flags |= session.FlagUltrapeer
	} else if req.RemoteMode == config.ModeLeaf {
		sess.Flags |= session.FlagLeaf
	}
	if compressed {
		sess.Flags |= session.FlagDeflate
	}

	if err := sess.Transition(session.StateReceivingHello); err != nil {
		log.WithError(err).Warn("unexpected state transition")
	}
	_ = sess.Transition(session.StateWelcomeSent)
	_ = sess.Transition(session.StateConnected)

	s.manager.Add(sess, req.RemoteMode)

	pc := &peerConn{sess: sess, reader: br, writer: link}
	if compressed {
		pc.reader = deflate.NewRXReader(br)
		txw, err := deflate.NewTXWriter(link)
		if err != nil {
			log.WithError(err).Error("constructing deflate writer, falling back to uncompressed")
		} else {
			pc.writer = txw
		}
	}

	isLeaf := req.RemoteMode == config.ModeLeaf && s.cfg.Mode == config.ModeUltra
	go s.readLoop(pc, isLeaf, log)
	go s.writeLoop(pc, log)
}

func (s *servent) readLoop(pc *peerConn, isLeaf bool, log logrus.FieldLogger) {
	br, ok := pc.reader.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(pc.reader)
	}
	sflag := pc.sess.Flags.Has(session.FlagSflag)
	for {
		h, payload, err := wire.Decode(br, sflag)
		if err != nil {
			log.WithField("session", pc.sess.ID).WithError(err).Debug("read loop ending")
			pc.sess.MarkRemoving(err.Error())
			return
		}
		pc.sess.RecordRx(h, len(payload))
		s.inbound <- inboundMsg{from: pc.sess, isLeaf: isLeaf, header: h, payload: payload}
	}
}

// writeLoopInterval is the poll period the write loop uses to check for
// newly queued traffic; the queue has no blocking-wait primitive of its
// own, so this is a simple cooperative poll rather than a wakeup channel.
const writeLoopInterval = 10 * time.Millisecond

func (s *servent) writeLoop(pc *peerConn, log logrus.FieldLogger) {
	ticker := time.NewTicker(writeLoopInterval)
	defer ticker.Stop()
	for range ticker.C {
		if pc.sess.State == session.StateRemoving {
			return
		}
		msg := pc.sess.Queue.Front()
		if msg == nil {
			continue
		}
		if !s.sched.TryReserve(msg.Size()) {
			continue
		}
		n, err := msg.WriteTo(pc.writer)
		if err != nil {
			log.WithField("session", pc.sess.ID).WithError(err).Debug("write failed")
			pc.sess.MarkRemoving("write error")
			return
		}
		pc.sess.RecordTx(msg.Header, n)
		if msg.Done() {
			pc.sess.Queue.Pop()
			if pc.sess.Queue.NeedsFlush() || !pc.sess.Queue.Pending() {
				if f, ok := pc.writer.(interface{ Flush() error }); ok {
					_ = f.Flush()
				}
				pc.sess.Queue.Unflush()
			}
		}
	}
}

func (s *servent) byeAndRemove(id session.ID, reason string) {
	sess, ok := s.manager.Get(id)
	if !ok {
		return
	}
	if link := sess.Link; link != nil {
		_ = sockopt.EnlargeSendBuffer(link.Conn, s.cfg.SendBufferBytes)
	}
	// 202 "making room". The sweep finalizes the removal once the bye has
	// drained or the shutdown grace expires.
	const byeCodeMakingRoom = 202
	s.sendBye(sess, byeCodeMakingRoom, reason)
	_ = sess.Transition(session.StateShutdown)
}

var sessionIDCounter uint64

func nextSessionID() uint64 {
	return atomic.AddUint64(&sessionIDCounter, 1)
}
