//go:build !linux

package frontdoor

import (
	"errors"
	"time"
)

// HostUptime always fails off Linux; the health endpoint reports "Unknown".
func HostUptime() (time.Duration, error) {
	return 0, errors.New("host uptime is not available on this platform")
}
