//go:build windows
// +build windows

package tcpinfo

import (
	"fmt"
	"strconv"
	"syscall"
	"unsafe"
)

// SIO_TCP_INFO is available to non-admins, as opposed to GetPerTcpConnectionEStats:
// - https://learn.microsoft.com/en-us/windows/win32/api/iphlpapi/nf-iphlpapi-getpertcpconnectionestats

const SIO_TCP_INFO = syscall.IOC_INOUT | syscall.IOC_VENDOR | 39

// RawInfoV0 mirrors the _TCP_INFO_v0 structure from the Windows SDK
// https://learn.microsoft.com/en-us/windows/win32/api/mstcpip/ns-mstcpip-tcp_info_v0
type RawInfoV0 struct {
	State             uint32
	Mss               uint32
	ConnectionTimeMs  uint64
	TimestampsEnabled bool
	RttUs             uint32
	MinRttUs          uint32
	BytesInFlight     uint32
	Cwnd              uint32
	SndWnd            uint32
	RcvWnd            uint32
	RcvBuf            uint32
	BytesOut          uint64
	BytesIn           uint64
	BytesReordered    uint32
	BytesRetrans      uint32
	FastRetrans       uint32
	DupAcksIn         uint32
	TimeoutEpisodes   uint32
	SynRetrans        uint8
}

// RawInfoV1 mirrors the _TCP_INFO_v1 structure from the Windows SDK
// https://learn.microsoft.com/en-us/windows/win32/api/mstcpip/ns-mstcpip-tcp_info_v1
type RawInfoV1 struct {
	State             uint32
	Mss               uint32
	ConnectionTimeMs  uint64
	TimestampsEnabled bool
	RttUs             uint32
	MinRttUs          uint32
	BytesInFlight     uint32
	Cwnd              uint32
	SndWnd            uint32
	RcvWnd            uint32
	RcvBuf            uint32
	BytesOut          uint64
	BytesIn           uint64
	BytesReordered    uint32
	BytesRetrans      uint32
	FastRetrans       uint32
	DupAcksIn         uint32
	TimeoutEpisodes   uint32
	SynRetrans        uint8
	// New fields in v1
	SndLimTransRwin uint32
	SndLimTimeRwin  uint32
	SndLimBytesRwin uint64
	SndLimTransCwnd uint32
	SndLimTimeCwnd  uint32
	SndLimBytesCwnd uint64
	SndLimTransSnd  uint32
	SndLimTimeSnd   uint32
	SndLimBytesSnd  uint64
}

// SysInfo is the unpacked subset of the v0/v1 TCP_INFO structures that link
// health scoring actually reads: the loss/reorder counters Warnings checks,
// plus enough to populate Info.State/Retransmits. The full structures carry
// RTT, window, and send-limiting fields; none of them feed a decision this
// servent makes, so they aren't decoded here.
type SysInfo struct {
	StateName         string `tcpi:"name=state_name,prom_type=gauge,prom_help='Connection state name, see bsd/netinet/tcp_fsm.h'" json:"state,omitempty"`
	RxOutOfOrderBytes uint32 `tcpi:"name=rx_out_of_order_bytes,prom_type=gauge,prom_help='Total number of out-of-order bytes received.'" json:"rxOutOfOrderBytes,omitempty"`
	TxRetransmitBytes uint64 `tcpi:"name=tx_retransmit_bytes,prom_type=gauge,prom_help='Total number of retransmitted bytes.'" json:"txRetransmitBytes,omitempty"`
	FastRetrans       uint32 `tcpi:"name=fast_retransmissions,prom_type=gauge,prom_help='Number of fast retransmissions.'" json:"fastRetransmissions,omitempty"`
	DupAcksIn         uint32 `tcpi:"name=duplicate_acks_in,prom_type=gauge,prom_help='Number of duplicate ACKs received.'" json:"duplicateAcksIn,omitempty"`
	TimeoutEpisodes   uint32 `tcpi:"name=timeout_episodes,prom_type=gauge,prom_help='Number of timeout episodes.'" json:"timeoutEpisodes,omitempty"`
	SynRetrans        uint8  `tcpi:"name=syn_retransmissions,prom_type=gauge,prom_help='Number of SYN retransmissions.'" json:"synRetransmissions,omitempty"`
}

// Unpack converts fields from _TCP_INFO_v0 to SysInfo
func (packed *RawInfoV0) Unpack() *SysInfo {
	var unpacked SysInfo
	unpacked.StateName = tcpStateMap[packed.State]
	unpacked.RxOutOfOrderBytes = packed.BytesReordered
	unpacked.TxRetransmitBytes = uint64(packed.BytesRetrans)
	unpacked.FastRetrans = packed.FastRetrans
	unpacked.DupAcksIn = packed.DupAcksIn
	unpacked.TimeoutEpisodes = packed.TimeoutEpisodes
	unpacked.SynRetrans = packed.SynRetrans

	return &unpacked
}

// Unpack converts fields from _TCP_INFO_v1 to SysInfo
func (packed *RawInfoV1) Unpack() *SysInfo {
	var unpacked SysInfo
	unpacked.StateName = tcpStateMap[packed.State]
	unpacked.RxOutOfOrderBytes = packed.BytesReordered
	unpacked.TxRetransmitBytes = uint64(packed.BytesRetrans)
	unpacked.FastRetrans = packed.FastRetrans
	unpacked.DupAcksIn = packed.DupAcksIn
	unpacked.TimeoutEpisodes = packed.TimeoutEpisodes
	unpacked.SynRetrans = packed.SynRetrans

	return &unpacked
}

func (s *SysInfo) ToInfo() *Info {
	return &Info{
		State:       s.StateName,
		Retransmits: uint64(s.SynRetrans),
		Sys:         s,
	}
}

// TCP state constants from https://learn.microsoft.com/en-us/windows/win32/api/mstcpip/ne-mstcpip-tcpstate
const (
	TCPS_CLOSED       = 0 /* closed */
	TCPS_LISTEN       = 1 /* listening for connection */
	TCPS_SYN_SENT     = 2 /* active, have sent syn */
	TCPS_SYN_RECEIVED = 3 /* have send and received syn */
	/* states < TCPS_ESTABLISHED are those where connections not established */
	TCPS_ESTABLISHED = 4 /* established */
	/* states > TCPS_CLOSE_WAIT are those where user has closed */
	TCPS_FIN_WAIT_1 = 5 /* have closed, sent fin */
	TCPS_FIN_WAIT_2 = 6 /* have closed, fin is acked */
	TCPS_CLOSE_WAIT = 7 /* rcvd fin, waiting for close */
	TCPS_CLOSING    = 8 /* closed xchd FIN; await FIN ACK */
	TCPS_LAST_ACK   = 9 /* had fin and close; await FIN ACK */
	/* states > TCPS_CLOSE_WAIT && < TCPS_FIN_WAIT_2 await ACK of FIN */
	TCPS_TIME_WAIT = 10 /* in 2*msl quiet wait after close */
)

var tcpStateMap = map[uint32]string{
	TCPS_ESTABLISHED:  "ESTABLISHED",
	TCPS_SYN_SENT:     "SYN_SENT",
	TCPS_SYN_RECEIVED: "SYN_RECV",
	TCPS_FIN_WAIT_1:   "FIN_WAIT1",
	TCPS_FIN_WAIT_2:   "FIN_WAIT2",
	TCPS_TIME_WAIT:    "TIME_WAIT",
	TCPS_CLOSED:       "CLOSE",
	TCPS_CLOSE_WAIT:   "CLOSE_WAIT",
	TCPS_LAST_ACK:     "LAST_ACK",
	TCPS_LISTEN:       "LISTEN",
	TCPS_CLOSING:      "CLOSING",
}

func tcpInfoTCPStateString(state uint32) string {
	if s, ok := tcpStateMap[state]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", state)
}

// ================================================================================================================== //

// Errors from syscall package are private, so we define our own to match the errno.
var (
	EAGAIN error = syscall.EAGAIN
	EINVAL error = syscall.EINVAL
	ENOENT error = syscall.ENOENT
)

// GetTCPInfo issues the SIO_TCP_INFO WSAIoctl on Windows (v1 first, falling back to v0) and unpacks the result into the golang-friendly SysInfo.
func GetTCPInfo(fds uintptr) (*SysInfo, error) {
	fd := syscall.Handle(fds)

	// Try _TCP_INFO_v1 first
	var inbufv1 uint32 = 1
	var outbufv1 RawInfoV1

	var cbbr uint32 = 0
	var ov syscall.Overlapped

	// Try _TCP_INFO_v1 first to get extra fields
	if err := syscall.WSAIoctl(
		fd,
		SIO_TCP_INFO,
		(*byte)(unsafe.Pointer(&inbufv1)),
		uint32(unsafe.Sizeof(inbufv1)),
		(*byte)(unsafe.Pointer(&outbufv1)),
		uint32(unsafe.Sizeof(outbufv1)),
		&cbbr,
		&ov,
		0,
	); err != nil {
		// Fallback to using _TCP_INFO_v0
		var inbufv0 uint32 = 1
		var outbufv0 RawInfoV0

		if err = syscall.WSAIoctl(
			fd,
			SIO_TCP_INFO,
			(*byte)(unsafe.Pointer(&inbufv0)),
			uint32(unsafe.Sizeof(inbufv0)),
			(*byte)(unsafe.Pointer(&outbufv0)),
			uint32(unsafe.Sizeof(outbufv0)),
			&cbbr,
			&ov,
			0,
		); err != nil {
			return nil, fmt.Errorf("could not perform the WSAIoctl: %v", err)
		}
		return outbufv0.Unpack(), nil
	}

	return outbufv1.Unpack(), nil
}

func Supported() bool {
	return true
}

func (s *SysInfo) Warnings() []string {
	var warns []string
	if s.TxRetransmitBytes > 0 {
		warns = append(warns, "retransmitBytes="+strconv.FormatUint(s.TxRetransmitBytes, 10))
	}
	if s.SynRetrans > 0 {
		warns = append(warns, "retransmitSyn="+strconv.FormatUint(uint64(s.SynRetrans), 10))
	}
	if s.RxOutOfOrderBytes > 0 {
		warns = append(warns, "outOfOrderBytes="+strconv.FormatUint(uint64(s.RxOutOfOrderBytes), 10))
	}
	if s.TimeoutEpisodes > 0 {
		warns = append(warns, "timeoutEpisodes="+strconv.FormatUint(uint64(s.TimeoutEpisodes), 10))
	}
	if s.DupAcksIn > 0 {
		warns = append(warns, "duplicateAcksIn="+strconv.FormatUint(uint64(s.DupAcksIn), 10))
	}
	if s.FastRetrans > 0 {
		warns = append(warns, "fastRetransmissions="+strconv.FormatUint(uint64(s.FastRetrans), 10))
	}
	return warns
}
