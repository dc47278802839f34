// Package deflate implements the optional compression layer negotiated
// during the 0.6 handshake: a TX-side flate.Writer layered over the raw
// link writer, a symmetric RX-side flate.Reader, and standalone UDP payload
// inflate/deflate.
package deflate

import (
	"bufio"
	"compress/flate"
	"io"

	"github.com/simeonmiteff/gnutella-core/pkg/corerr"
)

// writeBufferSize is the per-stream buffer sitting between the flate writer
// and the underlying link writer.
const writeBufferSize = 1024

// flushWatermark is the accumulated-bytes threshold at which TXWriter
// performs a Flush even without an explicit caller Flush, so a quiet
// session's last few bytes don't sit in the flate window forever.
const flushWatermark = 16 * 1024

// TXWriter wraps an outbound link writer with deflate compression. Bytes
// written are buffered in the flate.Writer's own window; Flush pushes a
// sync-flush block so the peer can decode everything written so far.
type TXWriter struct {
	link     io.Writer
	buffered *bufio.Writer
	flate    *flate.Writer
	since    int
}

// NewTXWriter constructs a TXWriter at the default compression level, which
// is what gtk-gnutella-style peers negotiate (no separate level header
// field exists in the 0.6 handshake to request otherwise).
func NewTXWriter(link io.Writer) (*TXWriter, error) {
	bw := bufio.NewWriterSize(link, writeBufferSize)
	fw, err := flate.NewWriter(bw, flate.DefaultCompression)
	if err != nil {
		return nil, corerr.Wrap(corerr.Internal, err, "constructing deflate writer")
	}
	return &TXWriter{link: link, buffered: bw, flate: fw}, nil
}

// Write compresses p. It does not guarantee p reaches the peer until Flush
// (or enough bytes accumulate to cross flushWatermark).
func (w *TXWriter) Write(p []byte) (int, error) {
	n, err := w.flate.Write(p)
	if err != nil {
		return n, corerr.Wrap(corerr.Transport, err, "deflate write")
	}
	w.since += n
	if w.since >= flushWatermark {
		if ferr := w.flushLocked(); ferr != nil {
			return n, ferr
		}
	}
	return n, nil
}

// Flush forces a sync-flush of any buffered compressed data, then flushes
// the underlying buffered link writer. The servent's write loop calls this
// after each message that empties the session's queue (and after a message
// written while the queue has a flush requested), so the peer can decode a
// drained queue immediately.
func (w *TXWriter) Flush() error {
	return w.flushLocked()
}

func (w *TXWriter) flushLocked() error {
	if err := w.flate.Flush(); err != nil {
		return corerr.Wrap(corerr.Transport, err, "deflate flush")
	}
	if err := w.buffered.Flush(); err != nil {
		return corerr.Wrap(corerr.Transport, err, "link flush")
	}
	w.since = 0
	return nil
}

// Close flushes and closes the deflate stream (not the underlying link,
// which the session owns independently).
func (w *TXWriter) Close() error {
	if err := w.flate.Close(); err != nil {
		return corerr.Wrap(corerr.Transport, err, "deflate close")
	}
	return w.buffered.Flush()
}

// RXReader wraps an inbound link reader with deflate decompression.
type RXReader struct {
	flate io.ReadCloser
}

// NewRXReader constructs an RXReader over link.
func NewRXReader(link io.Reader) *RXReader {
	return &RXReader{flate: flate.NewReader(link)}
}

func (r *RXReader) Read(p []byte) (int, error) {
	n, err := r.flate.Read(p)
	if err != nil && err != io.EOF {
		return n, corerr.Wrap(corerr.Transport, err, "inflate read")
	}
	return n, err
}

// Close releases the inflate window. It does not close the underlying link.
func (r *RXReader) Close() error {
	return r.flate.Close()
}
