package ui

import (
	"fmt"
	"strings"
	"time"
)

// Fraction is elapsed/interval clamped to [0, 1].
func Fraction(elapsed, interval time.Duration) float64 {
	if interval <= 0 || elapsed <= 0 {
		return 0
	}
	f := float64(elapsed) / float64(interval)
	if f > 1 {
		return 1
	}
	return f
}

// ProgressBar draws a bar of width cells for the segment being captured.
func ProgressBar(elapsed, interval time.Duration, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(Fraction(elapsed, interval)*float64(width) + 0.5)
	return ProgressFilledStyle.Render(strings.Repeat("█", filled)) +
		ProgressEmptyStyle.Render(strings.Repeat("░", width-filled))
}

// SecondsLeft rounds the time until the next cut up to whole seconds.
func SecondsLeft(elapsed, interval time.Duration) int {
	left := interval - elapsed
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

// Countdown is the "next in Ns" label shown while recording.
func Countdown(elapsed, interval time.Duration) string {
	return fmt.Sprintf("next in %ds", SecondsLeft(elapsed, interval))
}
