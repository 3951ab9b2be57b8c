package utils

import (
	"fmt"
	"time"
)

// FormatDuration renders an elapsed duration for log fields and run summaries.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}

	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	} else if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}

	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}
