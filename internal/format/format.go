// Package format renders byte counts and progress fractions as human-readable
// text for status messages pushed back to requesters.
package format

import (
	"fmt"
	"strings"
)

const barWidth = 10

var units = []string{"B", "KB", "MB", "GB", "TB"}

// Bytes formats a byte count as a human-readable size ("1.25 GB").
// Non-positive counts render as "unknown"; upstream tools report 0 or -1
// when the total is not known ahead of time.
func Bytes(n int64) string {
	if n <= 0 {
		return "unknown"
	}
	size := float64(n)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", size, units[i])
}

// Percent returns the completion fraction as a percentage in [0, 100].
// Returns 0 when the total is unknown.
func Percent(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(done) * 100 / float64(total)
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p
}

// Bar renders a ten-cell progress bar with filled and empty segments.
func Bar(done, total int64) string {
	pct := Percent(done, total)
	filled := int(pct / 100 * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	return strings.Repeat("▓", filled) + strings.Repeat("░", barWidth-filled)
}

// Progress renders a one-line progress message: bar, percent and sizes.
func Progress(done, total int64) string {
	if total <= 0 {
		return fmt.Sprintf("%s %s", Bar(done, total), Bytes(done))
	}
	return fmt.Sprintf("%s %.1f%% (%s / %s)", Bar(done, total), Percent(done, total), Bytes(done), Bytes(total))
}
