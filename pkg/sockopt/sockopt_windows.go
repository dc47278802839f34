//go:build windows

package sockopt

import (
	"net"

	"github.com/simeonmiteff/gnutella-core/pkg/corerr"
)

// EnlargeSendBuffer is unsupported on Windows; the raw syscall path this
// package uses elsewhere is POSIX-specific.
func EnlargeSendBuffer(conn net.Conn, size int) error {
	return corerr.New(corerr.Internal, "EnlargeSendBuffer is unsupported on windows")
}
