//go:build linux

package tcpinfo

import (
	"reflect"
	"testing"
)

func TestRawTCPInfoUnpack(t *testing.T) {
	tests := []struct {
		name   string
		kernel version
		raw    RawTCPInfo
		want   *SysInfo
	}{
		{
			name:   "pre-4.10 kernel leaves busy/window-limited fields invalid",
			kernel: version{kernel: 4, major: 9, minor: 0},
			raw: RawTCPInfo{
				state:         TCP_ESTABLISHED,
				backoff:       2,
				total_retrans: 3,
				busy_time:     123,
				rwnd_limited:  456,
				sndbuf_limited: 789,
				bytes_retrans: 1000,
				rcv_ooopack:   4,
			},
			want: &SysInfo{
				StateName:       "ESTABLISHED",
				Backoff:         2,
				TotalRetrans:    3,
				BusyTime:        NullableUint64{Valid: false},
				RxWindowLimited: NullableUint64{Valid: false},
				TxBufferLimited: NullableUint64{Valid: false},
				BytesRetrans:    NullableUint64{Valid: false},
				RxOutOfOrder:    NullableUint32{Valid: false},
			},
		},
		{
			name:   "4.10 kernel populates busy/window-limited fields",
			kernel: version{kernel: 4, major: 10, minor: 0},
			raw: RawTCPInfo{
				state:          TCP_ESTABLISHED,
				backoff:        0,
				total_retrans:  0,
				busy_time:      123,
				rwnd_limited:   456,
				sndbuf_limited: 789,
			},
			want: &SysInfo{
				StateName:       "ESTABLISHED",
				BusyTime:        NullableUint64{Valid: true, Value: 123},
				RxWindowLimited: NullableUint64{Valid: true, Value: 456},
				TxBufferLimited: NullableUint64{Valid: true, Value: 789},
				BytesRetrans:    NullableUint64{Valid: false},
				RxOutOfOrder:    NullableUint32{Valid: false},
			},
		},
		{
			name:   "4.19 kernel also populates bytes_retrans",
			kernel: version{kernel: 4, major: 19, minor: 0},
			raw: RawTCPInfo{
				state:         TCP_CLOSE_WAIT,
				bytes_retrans: 2048,
			},
			want: &SysInfo{
				StateName:       "CLOSE_WAIT",
				BusyTime:        NullableUint64{Valid: true},
				RxWindowLimited: NullableUint64{Valid: true},
				TxBufferLimited: NullableUint64{Valid: true},
				BytesRetrans:    NullableUint64{Valid: true, Value: 2048},
				RxOutOfOrder:    NullableUint32{Valid: false},
			},
		},
		{
			name:   "5.4 kernel also populates rcv_ooopack",
			kernel: version{kernel: 5, major: 4, minor: 0},
			raw: RawTCPInfo{
				state:       TCP_LISTEN,
				rcv_ooopack: 7,
			},
			want: &SysInfo{
				StateName:       "LISTEN",
				BusyTime:        NullableUint64{Valid: true},
				RxWindowLimited: NullableUint64{Valid: true},
				TxBufferLimited: NullableUint64{Valid: true},
				BytesRetrans:    NullableUint64{Valid: true},
				RxOutOfOrder:    NullableUint32{Valid: true, Value: 7},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applyKernelVersion(tt.kernel)
			raw := tt.raw
			if got := raw.Unpack(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Unpack() =\n\t%#v\nwant\n\t%#v", got, tt.want)
			}
		})
	}
}

func TestSysInfoToInfo(t *testing.T) {
	s := &SysInfo{StateName: "ESTABLISHED", TotalRetrans: 5}
	info := s.ToInfo()
	if info.State != "ESTABLISHED" {
		t.Errorf("State = %q, want ESTABLISHED", info.State)
	}
	if info.Retransmits != 5 {
		t.Errorf("Retransmits = %d, want 5", info.Retransmits)
	}
	if info.Sys != s {
		t.Error("Sys should point back at the SysInfo it was derived from")
	}
}

func TestSysInfoWarnings(t *testing.T) {
	quiet := &SysInfo{StateName: "ESTABLISHED"}
	if got := quiet.Warnings(); len(got) != 0 {
		t.Errorf("quiet connection: Warnings() = %v, want none", got)
	}

	noisy := &SysInfo{
		StateName:       "ESTABLISHED",
		Backoff:         1,
		TotalRetrans:    2,
		BytesRetrans:    NullableUint64{Valid: true, Value: 100},
		RxOutOfOrder:    NullableUint32{Valid: true, Value: 3},
		TxBufferLimited: NullableUint64{Valid: true, Value: 10},
		RxWindowLimited: NullableUint64{Valid: true, Value: 20},
	}
	got := noisy.Warnings()
	if len(got) != 6 {
		t.Errorf("noisy connection: Warnings() = %v, want 6 entries", got)
	}
}
