//go:build linux

package tcpinfo

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// version identifies a Linux kernel release as (kernel, major, minor), e.g.
// 5.15.0 -> {5, 15, 0}. Only the fields tcp_info field availability depends
// on are tracked; build and distro suffixes are ignored.
type version struct {
	kernel, major, minor int
}

// compare returns -1, 0 or 1 as v is less than, equal to, or greater than o.
func (v version) compare(o version) int {
	switch {
	case v.kernel != o.kernel:
		return sign(v.kernel - o.kernel)
	case v.major != o.major:
		return sign(v.major - o.major)
	default:
		return sign(v.minor - o.minor)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// parseRelease parses the dot-delimited prefix of a uname release string
// (e.g. "5.15.0-105-generic") into a version, ignoring anything after the
// third numeric component.
func parseRelease(release string) (version, error) {
	release = strings.TrimRight(release, "\x00")
	fields := strings.SplitN(release, "-", 2)[0]
	parts := strings.Split(fields, ".")
	if len(parts) < 2 {
		return version{}, fmt.Errorf("tcpinfo: malformed kernel release %q", release)
	}
	var v version
	var err error
	if v.kernel, err = strconv.Atoi(parts[0]); err != nil {
		return version{}, fmt.Errorf("tcpinfo: malformed kernel release %q: %w", release, err)
	}
	if v.major, err = strconv.Atoi(parts[1]); err != nil {
		return version{}, fmt.Errorf("tcpinfo: malformed kernel release %q: %w", release, err)
	}
	if len(parts) >= 3 {
		// Minor may carry a trailing non-numeric suffix (e.g. "0+deb12").
		minorDigits := parts[2]
		for i, r := range minorDigits {
			if r < '0' || r > '9' {
				minorDigits = minorDigits[:i]
				break
			}
		}
		if minorDigits != "" {
			if v.minor, err = strconv.Atoi(minorDigits); err != nil {
				return version{}, fmt.Errorf("tcpinfo: malformed kernel release %q: %w", release, err)
			}
		}
	}
	return v, nil
}

func kernelVersion() (version, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return version{}, fmt.Errorf("tcpinfo: uname: %w", err)
	}
	return parseRelease(unix.ByteSliceToString(uts.Release[:]))
}

var (
	kernelVersionIsAtLeast_2_6_2 bool
	kernelVersionIsAtLeast_3_15  bool
	kernelVersionIsAtLeast_4_1   bool
	kernelVersionIsAtLeast_4_2   bool
	kernelVersionIsAtLeast_4_6   bool
	kernelVersionIsAtLeast_4_9   bool
	kernelVersionIsAtLeast_4_10  bool
	kernelVersionIsAtLeast_4_18  bool
	kernelVersionIsAtLeast_4_19  bool
	kernelVersionIsAtLeast_5_4   bool
	kernelVersionIsAtLeast_5_5   bool
	kernelVersionIsAtLeast_6_2   bool
	kernelVersionIsAtLeast_6_7   bool
)

type sizedVersion struct {
	v    version
	size int
	flag *bool
}

var rawTCPInfoSizes = []sizedVersion{
	{version{2, 6, 2}, 104, &kernelVersionIsAtLeast_2_6_2},
	{version{3, 15, 0}, 120, &kernelVersionIsAtLeast_3_15},
	{version{4, 1, 0}, 136, &kernelVersionIsAtLeast_4_1},
	{version{4, 2, 0}, 144, &kernelVersionIsAtLeast_4_2},
	{version{4, 6, 0}, 160, &kernelVersionIsAtLeast_4_6},
	{version{4, 9, 0}, 148, &kernelVersionIsAtLeast_4_9},
	{version{4, 10, 0}, 192, &kernelVersionIsAtLeast_4_10},
	{version{4, 18, 0}, 200, &kernelVersionIsAtLeast_4_18},
	{version{4, 19, 0}, 224, &kernelVersionIsAtLeast_4_19},
	{version{5, 4, 0}, 232, &kernelVersionIsAtLeast_5_4},
	{version{5, 5, 0}, 232, &kernelVersionIsAtLeast_5_5},
	{version{6, 2, 0}, 240, &kernelVersionIsAtLeast_6_2},
	{version{6, 7, 0}, 248, &kernelVersionIsAtLeast_6_7},
}

// sizeOfRawTCPInfo is the length getsockopt(TCP_INFO) is expected to fill in,
// given the running kernel's vintage. It's resolved once at process start;
// if uname fails we fall back to the full modern struct size and let the
// syscall itself report any mismatch.
var sizeOfRawTCPInfo = rawTCPInfoSizes[len(rawTCPInfoSizes)-1].size

func init() {
	v, err := kernelVersion()
	if err != nil {
		// Unknown kernel: assume the newest layout this package understands.
		applyKernelVersion(rawTCPInfoSizes[len(rawTCPInfoSizes)-1].v)
		return
	}
	applyKernelVersion(v)
}

// applyKernelVersion sets sizeOfRawTCPInfo and every kernelVersionIsAtLeast_*
// flag for the given kernel release. Exposed unexported so tests can pin a
// specific release without shelling out to uname(2).
func applyKernelVersion(v version) {
	for _, sv := range rawTCPInfoSizes {
		*sv.flag = false
	}
	for i := len(rawTCPInfoSizes) - 1; i >= 0; i-- {
		if v.compare(rawTCPInfoSizes[i].v) >= 0 {
			sizeOfRawTCPInfo = rawTCPInfoSizes[i].size
			for j := i; j >= 0; j-- {
				*rawTCPInfoSizes[j].flag = true
			}
			return
		}
	}
}
