//go:build linux

package tcpinfo

import (
	"errors"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// RawTCPInfo has identical memory layout to Linux kernel tcp_info struct (current as of kernel 6.7.0).
// bitfield0 and bitfield1 have been added to capture the 4 packed fields. Note that bitfield1 would still
// have had the same location before tcpi_delivery_rate_app_limited and tcpi_fastopen_client_fail were added
// (in v4.9.0 and v5.5.0 respectively) because of alignment rules, so they didn't increase the length or
// shift the offsets of subsequent variables.
type RawTCPInfo struct { // struct tcp_info {          																	                                             // unless noted below, struct fields have been around since at least (1da177e4c3f41524e886b7f1b8a0c1fc7321cac2) v2.6.12-rc2^0
	state                uint8  // 1   __U8	tcpi_state;
	ca_state             uint8  // 2   __u8	tcpi_ca_state;
	retransmits          uint8  // 3   __u8	tcpi_retransmits;
	probes               uint8  // 4   __u8	tcpi_probes;
	backoff              uint8  // 5   __u8	tcpi_backoff;
	options              uint8  // 6   __u8	tcpi_options;
	bitfield0            uint8  // 7   __u8	tcpi_snd_wscale : 4, tcpi_rcv_wscale : 4;
	bitfield1            uint8  // 8   __u8	tcpi_delivery_rate_app_limited:1, tcpi_fastopen_client_fail:2; 						                                     // added via commits eb8329e0a04db0061f714f033b4454326ba147f4 (v4.9-rc1~127^2~120^2~7) and 480274787d7e3458bc5a7cfbbbe07033984ad711 (v5.5-rc1~174^2~318) respectively
	rto                  uint32 // 12  __u32 tcpi_rto;
	ato                  uint32 // 16  __u32 tcpi_ato;
	snd_mss              uint32 // 20  __u32 tcpi_snd_mss;
	rcv_mss              uint32 // 24  __u32 tcpi_rcv_mss;
	unacked              uint32 // 28  __u32 tcpi_unacked;
	sacked               uint32 // 32  __u32 tcpi_sacked;
	lost                 uint32 // 36  __u32 tcpi_lost;
	retrans              uint32 // 40  __u32 tcpi_retrans;
	fackets              uint32 // 44  __u32 tcpi_fackets;
	last_data_sent       uint32 // 48  __u32 tcpi_last_data_sent;
	last_ack_sent        uint32 // 52  __u32 tcpi_last_ack_sent;       /* Not remembered, sorry. */
	last_data_recv       uint32 // 56  __u32 tcpi_last_data_recv;
	last_ack_recv        uint32 // 60  __u32 tcpi_last_ack_recv;
	pmtu                 uint32 // 64  __u32 tcpi_pmtu;
	rcv_ssthresh         uint32 // 68  __u32 tcpi_rcv_ssthresh;
	rtt                  uint32 // 72  __u32 tcpi_rtt;
	rttvar               uint32 // 76  __u32 tcpi_rttvar;
	snd_ssthresh         uint32 // 80  __u32 tcpi_snd_ssthresh;
	snd_cwnd             uint32 // 84  __u32 tcpi_snd_cwnd;
	advmss               uint32 // 88  __u32 tcpi_advmss;
	reordering           uint32 // 92  __u32 tcpi_reordering;
	rcv_rtt              uint32 // 96  __u32 tcpi_rcv_rtt;
	rcv_space            uint32 // 100 __u32 tcpi_rcv_space;
	total_retrans        uint32 // 104 __u32 tcpi_total_retrans;
	pacing_rate          uint64 // 112 __u64 tcpi_pacing_rate; 																	                                     // added via commit 977cb0ecf82eb6d15562573c31edebf90db35163 (v3.15-rc1~113^2~349)
	max_pacing_rate      uint64 // 120 __u64 tcpi_max_pacing_rate; 																                                     // added via commit 977cb0ecf82eb6d15562573c31edebf90db35163 (v3.15-rc1~113^2~349)
	bytes_acked          uint64 // 128 __u64 tcpi_bytes_acked;         /* RFC4898 tcpEStatsAppHCThruOctetsAcked */ 					                                 // added via commit 0df48c26d8418c5c9fba63fac15b660d70ca2f1c (v4.1-rc4~26^2~34^2~22)
	bytes_received       uint64 // 136 __u64 tcpi_bytes_received;      /* RFC4898 tcpEStatsAppHCThruOctetsReceived */ 				                                 // added via commit bdd1f9edacb5f5835d1e6276571bbbe5b88ded48 (v4.1-rc4~26^2~34^2~21)
	segs_out             uint32 // 140 __u32 tcpi_segs_out;	           /* RFC4898 tcpEStatsPerfSegsOut */ 							                                 // added via commit 2efd055c53c06b7e89c167c98069bab9afce7e59 (v4.2-rc1~130^2~238)
	segs_in              uint32 // 144 __u32 tcpi_segs_in;	           /* RFC4898 tcpEStatsPerfSegsIn */ 								                             // added via commit 2efd055c53c06b7e89c167c98069bab9afce7e59 (v4.2-rc1~130^2~238)
	notsent_bytes        uint32 // 148 __u32 tcpi_notsent_bytes;       															                                     // added via commit cd9b266095f422267bddbec88f9098b48ea548fc (v4.6-rc1~91^2~262)
	min_rtt              uint32 // 152 __u32 tcpi_min_rtt; 		      															                                     // added via commit cd9b266095f422267bddbec88f9098b48ea548fc (v4.6-rc1~91^2~262)
	data_segs_in         uint32 // 156 __u32 tcpi_data_segs_in;	       /* RFC4898 tcpEStatsDataSegsIn */ 								                             // added via commit a44d6eacdaf56f74fad699af7f4925a5f5ac0e7f (v4.6-rc1~91^2~51)
	data_segs_out        uint32 // 160 __u32 tcpi_data_segs_out;       /* RFC4898 tcpEStatsDataSegsOut */ 								                             // added via commit a44d6eacdaf56f74fad699af7f4925a5f5ac0e7f (v4.6-rc1~91^2~51)
	delivery_rate        uint64 // 168 __u64 tcpi_delivery_rate;       															                                     // added via commit eb8329e0a04db0061f714f033b4454326ba147f4 (v4.9-rc1~127^2~120^2~7)
	busy_time            uint64 // 176 __u64 tcpi_busy_time;           /* Time (usec) busy sending data */ 							                                 // added via commit efd90174167530c67a54273fd5d8369c87f9bd32 (v4.10-rc1~202^2~157^2~1)
	rwnd_limited         uint64 // 184 __u64 tcpi_rwnd_limited;        /* Time (usec) limited by receive window */ 					                                 // added via commit efd90174167530c67a54273fd5d8369c87f9bd32 (v4.10-rc1~202^2~157^2~1)
	sndbuf_limited       uint64 // 192 __u64 tcpi_sndbuf_limited;      /* Time (usec) limited by send buffer */ 						                             // added via commit efd90174167530c67a54273fd5d8369c87f9bd32 (v4.10-rc1~202^2~157^2~1)
	delivered            uint32 // 196 __u32 tcpi_delivered; 	      															                                     // added via commit feb5f2ec646483fb66f9ad7218b1aad2a93a2a5c (v4.18-rc1~114^2~435^2)
	delivered_ce         uint32 // 200 __u32 tcpi_delivered_ce;       																                                 // added via commit feb5f2ec646483fb66f9ad7218b1aad2a93a2a5c (v4.18-rc1~114^2~435^2)
	bytes_sent           uint64 // 208 __u64 tcpi_bytes_sent;          /* RFC4898 tcpEStatsPerfHCDataOctetsOut */ 					                                 // added via commit ba113c3aa79a7f941ac162d05a3620bdc985c58d (v4.19-rc1~140^2~171^2~3)
	bytes_retrans        uint64 // 216 __u64 tcpi_bytes_retrans;       /* RFC4898 tcpEStatsPerfOctetsRetrans */ 						                             // added via commit fb31c9b9f6c85b1bad569ecedbde78d9e37cd87b (v4.19-rc1~140^2~171^2~2)
	dsack_dups           uint32 // 220 __u32 tcpi_dsack_dups;          /* RFC4898 tcpEStatsStackDSACKDups */ 							                             // added via commit 7e10b6554ff2ce7f86d5d3eec3af5db8db482caa (v4.19-rc1~140^2~171^2~1)
	reord_seen           uint32 // 224 __u32 tcpi_reord_seen;          /* reordering events seen */ 									                             // added via commit 7ec65372ca534217b53fd208500cf7aac223a383 (v4.19-rc1~140^2~171^2)
	rcv_ooopack          uint32 // 228 __u32 tcpi_rcv_ooopack;         /* Out-of-order packets received */ 							                                 // added via commit f9af2dbbfe01def62765a58af7fbc488351893c3 (v5.4-rc1~131^2~10)
	snd_wnd              uint32 // 232 __u32 tcpi_snd_wnd;	           /* peer's advertised receive window after scaling (bytes) */ 	                             // added via commit 8f7baad7f03543451af27f5380fc816b008aa1f2 (v5.4-rc1~131^2~9)
	rcv_wnd              uint32 // 236 __u32 tcpi_rcv_wnd;             /* local advertised receive window after scaling (bytes) */	                                 // added via commit 71fc704768f601ed3fa36310822a5e03f310f781 (v6.2-rc1~99^2~348^2)
	rehash               uint32 // 240 __u32 tcpi_rehash;              /* PLB or timeout triggered rehash attempts */					                             // added via commit 71fc704768f601ed3fa36310822a5e03f310f781 (v6.2-rc1~99^2~348^2)
	total_rto            uint16 // 242 __u16 tcpi_total_rto            /* Total number of RTO timeouts, including	SYN/SYN-ACK and recurring timeouts.	*/			 // added via commit 3868ab0f192581eff978501a05f3dc2e01541d77 (v6.7-rc1~122^2~330^2)
	total_rto_recoveries uint16 // 244 __u16 tcpi_total_rto_recoveries /* Total number of RTO recoveries, including any unfinished recovery. */                      // added via commit 3868ab0f192581eff978501a05f3dc2e01541d77 (v6.7-rc1~122^2~330^2)
	total_rto_time       uint32 // 248 __u32 tcpi_total_rto_time       /* Total time spent in RTO recoveries in milliseconds, including any unfinished recovery. */  // added via commit 3868ab0f192581eff978501a05f3dc2e01541d77 (v6.7-rc1~122^2~330^2)
} //};

type NullableUint32 struct {
	Valid bool
	Value uint32
}

type NullableUint64 struct {
	Valid bool
	Value uint64
}

// SysInfo is the unpacked subset of RawTCPInfo that link health scoring
// actually reads: the congestion-state fields Warnings checks, plus enough
// to populate Info.State/Retransmits. The full tcp_info struct has several
// dozen more fields (MSS, windows, pacing rate, BBR/Vegas/DCTCP congestion
// control internals, ...); none of them feed a decision this servent makes,
// so they aren't decoded here.
type SysInfo struct {
	StateName       string         `tcpi:"name=state_name,prom_type=gauge,prom_help='Connection state name, see include/net/tcp_states.h.'" json:"state"`
	Backoff         uint8          `tcpi:"name=backoff,prom_type=gauge,prom_help='Exponential timeout backoff counter. Increment on RTO, reset on successful RTT measurements.'" json:"backoff,omitempty"`
	TotalRetrans    uint32         `tcpi:"name=total_retrans,prom_type=gauge,prom_help='Total number of segments containing retransmitted data.'" json:"totalRetrans,omitempty"`
	BusyTime        NullableUint64 `tcpi:"name=busy_time,prom_type=gauge,prom_help='Time in usecs with outstanding (unacknowledged) data. Time when snd.una not equal to snd.next.'" json:"busyTime,omitempty"`
	RxWindowLimited NullableUint64 `tcpi:"name=rwnd_limited,prom_type=gauge,prom_help='Time in usecs spent limited by/waiting for receiver window.'" json:"rwndLimited,omitempty"`
	TxBufferLimited NullableUint64 `tcpi:"name=sndbuf_limited,prom_type=gauge,prom_help='Time in usecs spent limited by/waiting for sender buffer space.'" json:"sndbufLimited,omitempty"`
	BytesRetrans    NullableUint64 `tcpi:"name=bytes_retrans,prom_type=gauge,prom_help='Bytes retransmitted. May include headers and new data carried with a retransmission (for thin flows) | RFC4898 tcpEStatsPerfOctetsRetrans.'" json:"bytesRetrans,omitempty"`
	RxOutOfOrder    NullableUint32 `tcpi:"name=rcv_ooopack,prom_type=counter,prom_help='Out-of-order packets received.'" json:"rxOutOfOrder,omitempty"`
	CCAlgorithm     string         `tcpi:"name=cc_algorithm,prom_type=gauge,prom_help='Congestion control algorithm in use for this connection.'" json:"ccAlgorithm,omitempty"`
}

// Unpack copies fields from RawTCPInfo to SysInfo, taking care of the bitfields and marking fields not provided
// by older kernel versions as null. In the future it may deal with varying lengths of the struct returned by the
// system call (i.e., kernels older than 5.4.0).
func (packed *RawTCPInfo) Unpack() *SysInfo {
	var unpacked SysInfo

	unpacked.StateName = tcpStateMap[packed.state]
	unpacked.Backoff = packed.backoff
	unpacked.TotalRetrans = packed.total_retrans

	unpacked.BusyTime = NullableUint64{Valid: false}
	unpacked.RxWindowLimited = NullableUint64{Valid: false}
	unpacked.TxBufferLimited = NullableUint64{Valid: false}
	if kernelVersionIsAtLeast_4_10 {
		unpacked.BusyTime.Valid = true
		unpacked.BusyTime.Value = packed.busy_time
		unpacked.RxWindowLimited.Valid = true
		unpacked.RxWindowLimited.Value = packed.rwnd_limited
		unpacked.TxBufferLimited.Valid = true
		unpacked.TxBufferLimited.Value = packed.sndbuf_limited
	}

	unpacked.BytesRetrans = NullableUint64{Valid: false}
	if kernelVersionIsAtLeast_4_19 {
		unpacked.BytesRetrans.Valid = true
		unpacked.BytesRetrans.Value = packed.bytes_retrans
	}

	unpacked.RxOutOfOrder = NullableUint32{Valid: false}
	if kernelVersionIsAtLeast_5_4 {
		unpacked.RxOutOfOrder.Valid = true
		unpacked.RxOutOfOrder.Value = packed.rcv_ooopack
	}

	return &unpacked
}

func (s *SysInfo) ToInfo() *Info {
	return &Info{
		State:       s.StateName,
		Retransmits: uint64(s.TotalRetrans),
		Sys:         s,
	}
}

// TCP state constants from linux net/tcp_states.h
const (
	TCP_ESTABLISHED = iota + 1
	TCP_SYN_SENT
	TCP_SYN_RECV
	TCP_FIN_WAIT1
	TCP_FIN_WAIT2
	TCP_TIME_WAIT
	TCP_CLOSE
	TCP_CLOSE_WAIT
	TCP_LAST_ACK
	TCP_LISTEN
	TCP_CLOSING
	TCP_NEW_SYN_RECV
)

var tcpStateMap = map[uint8]string{
	TCP_ESTABLISHED: "ESTABLISHED",
	TCP_SYN_SENT:    "SYN_SENT",
	TCP_SYN_RECV:    "SYN_RECV",
	TCP_FIN_WAIT1:   "FIN_WAIT1",
	TCP_FIN_WAIT2:   "FIN_WAIT2",
	TCP_TIME_WAIT:   "TIME_WAIT",
	TCP_CLOSE:       "CLOSE",
	TCP_CLOSE_WAIT:  "CLOSE_WAIT",
	TCP_LAST_ACK:    "LAST_ACK",
	TCP_LISTEN:      "LISTEN",
	TCP_CLOSING:     "CLOSING",
}

// Errors from syscall package are private, so we define our own to match the errno.
var (
	EAGAIN error = syscall.EAGAIN
	EINVAL error = syscall.EINVAL
	ENOENT error = syscall.ENOENT
)

var ErrKernelTooOld = errors.New("tcp_info is not available on Linux prior to kernel 2.6.2")

// GetTCPCongestionAlgorithm retrieves the TCP congestion control algorithm in use for the given socket.
// The returned string is one of "vegas", "dctp", "bbr", "cubic", or newer algorithms.
func GetTCPCongestionAlgorithm(fds uintptr) (string, error) {
	algo, err := unix.GetsockoptString(int(fds), unix.IPPROTO_TCP, unix.TCP_CONGESTION)
	if err != nil {
		return "", err
	}
	return algo, nil
}

// GetTCPInfo retrieves the TCP_INFO struct and tags the result with the
// connection's congestion control algorithm.
func GetTCPInfo(fds uintptr) (*SysInfo, error) {
	if !kernelVersionIsAtLeast_2_6_2 {
		return nil, ErrKernelTooOld
	}

	tcpInfo, err := GetRawTCPInfo(fds)
	if err != nil {
		return nil, err
	}
	sysInfo := tcpInfo.Unpack()

	alg, err := GetTCPCongestionAlgorithm(fds)
	if err != nil {
		return sysInfo, err
	}
	sysInfo.CCAlgorithm = alg

	return sysInfo, nil
}

func Supported() bool {
	return kernelVersionIsAtLeast_2_6_2
}

func (s *SysInfo) Warnings() []string {
	var warns []string
	if s.BytesRetrans.Valid && s.BytesRetrans.Value > 0 {
		warns = append(warns, "retransBytes="+strconv.FormatUint(s.BytesRetrans.Value, 10))
	}
	if s.TotalRetrans > 0 {
		warns = append(warns, "retransTotal="+strconv.FormatUint(uint64(s.TotalRetrans), 10))
	}
	if s.Backoff > 0 {
		warns = append(warns, "backoff="+strconv.FormatUint(uint64(s.Backoff), 10))
	}
	if s.RxOutOfOrder.Valid && s.RxOutOfOrder.Value > 0 {
		warns = append(warns, "outOfOrderBytes="+strconv.FormatUint(uint64(s.RxOutOfOrder.Value), 10))
	}
	if s.TxBufferLimited.Valid && s.TxBufferLimited.Value > 0 {
		warns = append(warns, "txSendBufferLimited="+strconv.FormatUint(s.TxBufferLimited.Value, 10))
	}
	if s.RxWindowLimited.Valid && s.RxWindowLimited.Value > 0 {
		warns = append(warns, "rxWindowLimited="+strconv.FormatUint(s.RxWindowLimited.Value, 10))
	}
	return warns
}
