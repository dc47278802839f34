// Package wire implements the fixed 23-byte Gnutella message header: framing,
// size validation and the function code table.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/simeonmiteff/gnutella-core/pkg/corerr"
)

// HeaderSize is the fixed on-wire header length.
const HeaderSize = 23

// MaxPayload is the architectural ceiling on any single message payload.
const MaxPayload = 64 * 1024

// MaxByePayload caps a bye-message payload specifically.
const MaxByePayload = 4 * 1024

// Function is a Gnutella message function code.
type Function uint8

const (
	FuncPing           Function = 0x00
	FuncPong           Function = 0x01
	FuncBye            Function = 0x02
	FuncQRT            Function = 0x30
	FuncVendor         Function = 0x31
	FuncStandardVendor Function = 0x32
	FuncPush           Function = 0x40
	FuncRUDP           Function = 0x41
	FuncDHT            Function = 0x44
	FuncQuery          Function = 0x80
	FuncQueryHit       Function = 0x81
	FuncHSEP           Function = 0x99
)

func (f Function) String() string {
	switch f {
	case FuncPing:
		return "ping"
	case FuncPong:
		return "pong"
	case FuncBye:
		return "bye"
	case FuncQRT:
		return "qrt"
	case FuncVendor:
		return "vendor"
	case FuncStandardVendor:
		return "standard-vendor"
	case FuncPush:
		return "push"
	case FuncRUDP:
		return "rudp"
	case FuncDHT:
		return "dht"
	case FuncQuery:
		return "query"
	case FuncQueryHit:
		return "query-hit"
	case FuncHSEP:
		return "hsep"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(f))
	}
}

// Droppable reports whether the MQ is permitted to evict a pending message
// of this function under flow-control. Queries and query-hits are
// droppable; everything else (notably pongs and pushes) is not.
func (f Function) Droppable() bool {
	return f == FuncQuery || f == FuncQueryHit
}

// MuidSize is the length of the opaque message-id.
const MuidSize = 16

// Muid is the 16-byte message unique identifier carried in every header.
type Muid [MuidSize]byte

// Header is the decoded form of the 23-byte wire header.
type Header struct {
	Muid   Muid
	Func   Function
	TTL    uint8
	Hops   uint8
	Size   uint32 // payload length as encoded; see SizeValidity for interpretation
	Flags  uint16 // only meaningful when Marked is true
	Marked bool   // high bit of the size field indicated a flags word follows
}

// SizeValidity classifies how a header's size field should be interpreted.
type SizeValidity int

const (
	// SizeInvalid means the field decodes to a payload length over
	// MaxPayload; Decode refuses such a header with a Protocol error.
	SizeInvalid SizeValidity = iota
	// SizeValid means a plain 32-bit little-endian length under MaxPayload.
	SizeValid
	// SizeValidMarked means the high bit marks a 16-bit length + 16-bit
	// flags encoding, and the peer advertised sflag support so the marked
	// interpretation is honored.
	SizeValidMarked
)

// sizeMarkerBit is bit 15 of the little-endian uint16 occupying the first
// two size-field bytes: when set (and sflag was negotiated) it signals that
// the size field is a 16-bit length followed by a 16-bit flags word, rather
// than a plain 32-bit length.
const sizeMarkerBit uint16 = 0x8000

// EncodeHeader serializes h into a HeaderSize-length byte slice. Size is
// taken from h.Size (and h.Flags/h.Marked if set); callers are expected to
// have already validated the payload length against MaxPayload.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:16], h.Muid[:])
	buf[16] = byte(h.Func)
	buf[17] = h.TTL
	buf[18] = h.Hops
	if h.Marked {
		binary.LittleEndian.PutUint16(buf[19:21], uint16(h.Size)|sizeMarkerBit)
		binary.LittleEndian.PutUint16(buf[21:23], h.Flags)
	} else {
		binary.LittleEndian.PutUint32(buf[19:23], h.Size)
	}
	return buf
}

// DecodeHeader parses exactly HeaderSize bytes into a Header. sflagNegotiated
// must reflect whether this peer advertised (and we accepted) the sflag/0.1
// marked-size extension during handshake; if false, the marker bit is
// treated as part of a plain 32-bit length — a session accepts the flag
// interpretation only if the peer advertised sflag support.
func DecodeHeader(buf []byte, sflagNegotiated bool) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, corerr.New(corerr.Protocol, "short header: %d bytes", len(buf))
	}
	var h Header
	copy(h.Muid[:], buf[0:16])
	h.Func = Function(buf[16])
	h.TTL = buf[17]
	h.Hops = buf[18]

	lowWord := binary.LittleEndian.Uint16(buf[19:21])
	if sflagNegotiated && lowWord&sizeMarkerBit != 0 {
		h.Marked = true
		h.Size = uint32(lowWord &^ sizeMarkerBit)
		h.Flags = binary.LittleEndian.Uint16(buf[21:23])
	} else {
		h.Size = binary.LittleEndian.Uint32(buf[19:23])
	}
	return h, nil
}

// ValidateSize classifies h.Size/h.Marked.
func ValidateSize(h Header, sflagNegotiated bool) SizeValidity {
	if h.Size > MaxPayload {
		return SizeInvalid
	}
	if h.Marked {
		if !sflagNegotiated {
			return SizeInvalid
		}
		return SizeValidMarked
	}
	return SizeValid
}

// KickThresholds are per-function payload-size ceilings enforced above and
// beyond MaxPayload, separately configurable for query, query-hit and
// everything else.
type KickThresholds struct {
	Query    uint32
	QueryHit uint32
	Other    uint32
}

// DefaultKickThresholds mirrors gtk-gnutella-style defaults: generous for
// query-hits (which legitimately carry many results), tight for everything
// else.
var DefaultKickThresholds = KickThresholds{
	Query:    256,
	QueryHit: MaxPayload,
	Other:    4096,
}

// Exceeds reports whether a payload of the given size for function f should
// trigger a kick (session teardown) under t.
func (t KickThresholds) Exceeds(f Function, size uint32) bool {
	switch f {
	case FuncQuery:
		return size > t.Query
	case FuncQueryHit:
		return size > t.QueryHit
	case FuncBye:
		return size > MaxByePayload
	default:
		return size > t.Other
	}
}
