package cli

import (
	"fmt"
	"time"
)

// FormatDuration formats milliseconds to human readable string
func FormatDuration(ms int) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	secs := float64(ms) / 1000
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	mins := int(secs / 60)
	secs = secs - float64(mins*60)
	return fmt.Sprintf("%dm%.1fs", mins, secs)
}

// FormatSeconds formats a duration in seconds.
func FormatSeconds(s float64) string {
	return FormatDuration(int(time.Duration(s * float64(time.Second)).Milliseconds()))
}

// FormatScore formats a similarity as a percentage.
func FormatScore(s float32) string {
	return fmt.Sprintf("%.1f%%", s*100)
}
