//go:build !windows

// Package sockopt extracts a raw file descriptor from a net.Conn to adjust
// socket options the standard library doesn't expose directly, notably
// enlarging SO_SNDBUF immediately before writing a bye so the whole
// farewell payload has a chance of landing in one kernel-buffered write
// even on a congested link.
package sockopt

import (
	"net"
	"syscall"

	"github.com/higebu/netfd"

	"github.com/simeonmiteff/gnutella-core/pkg/corerr"
)

// EnlargeSendBuffer raises SO_SNDBUF on conn's underlying file descriptor
// to at least size bytes. It is a best-effort call: many platforms cap or
// ignore requests above a system maximum, so a failure here should not
// itself be treated as fatal to the bye delivery it's in service of.
func EnlargeSendBuffer(conn net.Conn, size int) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return corerr.New(corerr.Internal, "EnlargeSendBuffer requires a *net.TCPConn")
	}
	fd := netfd.GetFdFromConn(tcpConn)
	if fd < 0 {
		return corerr.New(corerr.Internal, "could not extract file descriptor")
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, size); err != nil {
		return corerr.Wrap(corerr.Transport, err, "setsockopt SO_SNDBUF")
	}
	return nil
}
