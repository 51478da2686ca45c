package stats

import (
	"fmt"
	"time"
)

// unit is one step of the binary (1024-based) scale.
type unit struct {
	factor float64
	suffix string
}

// binaryUnits is ordered largest first so the first match wins.
var binaryUnits = []unit{
	{1 << 40, "TiB"},
	{1 << 30, "GiB"},
	{1 << 20, "MiB"},
	{1 << 10, "KiB"},
}

// scaled renders v in the largest binary unit not exceeding it, with one
// decimal. Values below one KiB are printed whole, followed by base.
func scaled(v float64, base, per string) string {
	for _, u := range binaryUnits {
		if v >= u.factor {
			return fmt.Sprintf("%.1f %s%s", v/u.factor, u.suffix, per)
		}
	}
	return fmt.Sprintf("%.0f %s%s", v, base, per)
}

// FormatBytes formats a byte count, e.g. "1.5 KiB" or "512 B".
func FormatBytes(bytes uint64) string {
	if bytes < 1<<10 {
		return fmt.Sprintf("%d B", bytes)
	}
	return scaled(float64(bytes), "B", "")
}

// FormatRate formats a bytes-per-second rate, e.g. "2.0 MiB/s".
func FormatRate(bytesPerSec float64) string {
	return scaled(bytesPerSec, "B", "/s")
}

// FormatDuration renders d as "1h 2m 3s", "2m 3s" or "3s", truncated to
// whole seconds. Negative durations render as "0s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h, m, s := total/3600, total/60%60, total%60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatSummary renders a one-line throughput summary of s.
func FormatSummary(s NetworkStats) string {
	return fmt.Sprintf("%s  ↓ %s  ↑ %s  (total ↓ %s  ↑ %s, %s)",
		s.Interface,
		FormatRate(s.SpeedDown), FormatRate(s.SpeedUp),
		FormatBytes(s.TotalDown), FormatBytes(s.TotalUp),
		FormatDuration(s.Duration))
}
