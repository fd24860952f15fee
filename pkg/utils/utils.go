package utils

import "fmt"

func FormatRoundedUnit(seconds int64) string {
	if seconds < 0 {
		seconds = -seconds
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds > 3600 {
		return fmt.Sprintf("%dh", int64(seconds/3600))
	}
	return fmt.Sprintf("%dm", int64(seconds/60))
}

// FormatPaddedPercent right-aligns a percentage for HTML column layout.
func FormatPaddedPercent(percent float64) string {
	s := fmt.Sprintf("%.1f%%", percent)
	if percent < 10 {
		return "&nbsp;&nbsp;" + s
	}
	if percent < 100 {
		return "&nbsp;" + s
	}
	return s
}
