package frontdoor

import (
	"fmt"
	"time"
)

// FormatUptime renders d as "Nd Nh Nm", truncating seconds.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}
