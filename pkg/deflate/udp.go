package deflate

import (
	"bytes"
	"compress/flate"
	"io"

	"github.com/simeonmiteff/gnutella-core/pkg/corerr"
)

// DeflateUDP compresses a single UDP payload independently of any stream
// state: each datagram carries its own complete deflate block, since UDP
// has no connection to hang per-stream window state off of.
func DeflateUDP(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, corerr.Wrap(corerr.Internal, err, "constructing udp deflate writer")
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, corerr.Wrap(corerr.Internal, err, "udp deflate write")
	}
	if err := fw.Close(); err != nil {
		return nil, corerr.Wrap(corerr.Internal, err, "udp deflate close")
	}
	return buf.Bytes(), nil
}

// InflateUDP decompresses a single deflated UDP payload. A malformed stream
// is reported as a *corerr.Error so the caller can drop the datagram
// silently rather than tearing down any session state.
func InflateUDP(payload []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(payload))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, corerr.Wrap(corerr.Protocol, err, "malformed udp deflate stream")
	}
	return out, nil
}
