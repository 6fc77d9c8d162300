//go:build linux

package frontdoor

import (
	"time"

	"golang.org/x/sys/unix"
)

// HostUptime reports how long the host has been up.
func HostUptime() (time.Duration, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return time.Duration(info.Uptime) * time.Second, nil
}
