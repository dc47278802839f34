package deflate

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/simeonmiteff/gnutella-core/pkg/corerr"
)

func TestTXRXRoundTrip(t *testing.T) {
	var link bytes.Buffer
	tx, err := NewTXWriter(&link)
	if err != nil {
		t.Fatalf("NewTXWriter: %v", err)
	}

	want := []byte("the quick brown fox jumps over the lazy dog")
	if _, err := tx.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rx := NewRXReader(bufio.NewReader(&link))
	got := make([]byte, len(want))
	if _, err := io.ReadFull(rx, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("round trip = %q, want %q", got, want)
	}
}

func TestTXWriterFlushWatermark(t *testing.T) {
	var link bytes.Buffer
	tx, err := NewTXWriter(&link)
	if err != nil {
		t.Fatalf("NewTXWriter: %v", err)
	}
	chunk := bytes.Repeat([]byte{0x42}, flushWatermark+1)
	if _, err := tx.Write(chunk); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if tx.since != 0 {
		t.Errorf("since = %d, want 0 after crossing flushWatermark", tx.since)
	}
}

func TestUDPRoundTrip(t *testing.T) {
	want := []byte("query hit payload goes here")
	compressed, err := DeflateUDP(want)
	if err != nil {
		t.Fatalf("DeflateUDP: %v", err)
	}
	got, err := InflateUDP(compressed)
	if err != nil {
		t.Fatalf("InflateUDP: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("udp round trip = %q, want %q", got, want)
	}
}

func TestInflateUDPMalformed(t *testing.T) {
	_, err := InflateUDP([]byte{0xff, 0xff, 0xff, 0xff})
	if err == nil {
		t.Fatal("InflateUDP accepted garbage input")
	}
	if !corerr.Is(err, corerr.Protocol) {
		t.Errorf("error kind = %v, want Protocol", err)
	}
}
