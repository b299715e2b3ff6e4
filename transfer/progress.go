package transfer

import (
	"fmt"
	"math"
	"time"
)

// DateInfoLayout is the layout used for TransferRecord.DateInfo.
const DateInfoLayout = "2006-01-02 15:04:05"

var byteUnits = []struct {
	threshold float64
	suffix    string
}{
	{threshold: 1 << 30, suffix: "GB"},
	{threshold: 1 << 20, suffix: "MB"},
	{threshold: 1 << 10, suffix: "KB"},
}

// FormatBytes renders n with the largest binary unit it fills at least once.
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	value := float64(n)
	for _, unit := range byteUnits {
		if value/unit.threshold >= 1 {
			return fmt.Sprintf("%.2f %s", roundHalfUp(value/unit.threshold), unit.suffix)
		}
	}
	return fmt.Sprintf("%dB", n)
}

// ComputePercent returns floor(sent/total*100) clamped to [0,100].
// A zero total counts as finished.
func ComputePercent(sent, total int64) int {
	if total <= 0 {
		return 100
	}
	if sent <= 0 {
		return 0
	}
	if sent >= total {
		return 100
	}
	return int(math.Floor(float64(sent) / float64(total) * 100))
}

// FormatDateInfo stamps a completion time for display.
func FormatDateInfo(t time.Time) string {
	return t.Format(DateInfoLayout)
}

func roundHalfUp(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

func clampPercent(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
