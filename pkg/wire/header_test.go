package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name            string
		h               Header
		sflagNegotiated bool
	}{
		{
			name: "plain ping",
			h:    Header{Func: FuncPing, TTL: 7, Hops: 0, Size: 0},
		},
		{
			name:            "marked with flags",
			h:               Header{Func: FuncQuery, TTL: 3, Hops: 1, Size: 42, Flags: 0x00ff, Marked: true},
			sflagNegotiated: true,
		},
		{
			name: "marked ignored without negotiation",
			// Same bit pattern as above but the peer never negotiated
			// sflag, so this must decode as a (very large) plain length,
			// not be misread as a marked short length.
			h:               Header{Func: FuncQuery, TTL: 3, Hops: 1, Size: 42, Flags: 0x00ff, Marked: true},
			sflagNegotiated: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeHeader(tt.h)
			if len(encoded) != HeaderSize {
				t.Fatalf("encoded length = %d, want %d", len(encoded), HeaderSize)
			}
			got, err := DecodeHeader(encoded, tt.sflagNegotiated)
			if err != nil {
				t.Fatalf("DecodeHeader: %v", err)
			}
			want := tt.h
			if !tt.sflagNegotiated {
				want.Marked = false
				want.Flags = 0
				if tt.h.Marked {
					// The marker bit and the flags word are read back as the
					// upper bits of a plain 32-bit length: 0x00ff802a here.
					want.Size = uint32(tt.h.Flags)<<16 | uint32(sizeMarkerBit) | tt.h.Size
				}
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidateSize(t *testing.T) {
	tests := []struct {
		name            string
		h               Header
		sflagNegotiated bool
		want            SizeValidity
	}{
		{"small plain", Header{Size: 100}, false, SizeValid},
		{"too large", Header{Size: MaxPayload + 1}, false, SizeInvalid},
		{"marked but not negotiated", Header{Size: 10, Marked: true}, false, SizeInvalid},
		{"marked and negotiated", Header{Size: 10, Marked: true}, true, SizeValidMarked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateSize(tt.h, tt.sflagNegotiated); got != tt.want {
				t.Errorf("ValidateSize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessageDecode(t *testing.T) {
	h := Header{Func: FuncPing, TTL: 1, Hops: 0}
	payload := []byte("hello")
	msg := NewMessage(h, payload, PriorityNormal, 1)

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	gotHeader, gotPayload, err := Decode(bufio.NewReader(&buf), false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if gotHeader.Func != FuncPing || gotHeader.TTL != 1 {
		t.Errorf("decoded header = %+v", gotHeader)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("decoded payload = %q, want %q", gotPayload, payload)
	}
}

func TestMessagePartialWrite(t *testing.T) {
	h := Header{Func: FuncQuery}
	payload := bytes.Repeat([]byte{0xAB}, 100)
	msg := NewMessage(h, payload, PriorityNormal, 1)

	full := msg.Encode()
	// Simulate a short write of the first 10 bytes via a capped writer.
	w := &cappedWriter{max: 10}
	n, err := msg.WriteTo(w)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if n != 10 {
		t.Fatalf("first WriteTo wrote %d bytes, want 10", n)
	}
	if !msg.Started() {
		t.Fatal("Started() = false after partial write")
	}
	if msg.Done() {
		t.Fatal("Done() = true after partial write")
	}

	// Drain the rest; resumption must not re-send already-written bytes.
	w.max = len(full)
	var out bytes.Buffer
	out.Write(w.written)
	for !msg.Done() {
		if _, err := msg.WriteTo(w); err != nil {
			t.Fatalf("WriteTo: %v", err)
		}
		out.Reset()
		out.Write(w.written)
	}
	if !bytes.Equal(out.Bytes(), full) {
		t.Errorf("reassembled bytes differ from the full encoding")
	}
}

// cappedWriter accepts at most max bytes per Write call, modeling a socket
// that would otherwise block.
type cappedWriter struct {
	max     int
	written []byte
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n > w.max {
		n = w.max
	}
	w.written = append(w.written, p[:n]...)
	return n, nil
}
