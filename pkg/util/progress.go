package util

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ProgressSteps is the resolution of a fractional progress bar.
const ProgressSteps = 100

// NewProgressBar creates a progress bar that tracks a fraction from 0 to 1
// in ProgressSteps steps, with the standard theme.
func NewProgressBar(w io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		ProgressSteps,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// FractionToSteps converts a 0..1 fraction into bar steps, clamping out-of-range input.
func FractionToSteps(fraction float64) int {
	switch {
	case fraction <= 0:
		return 0
	case fraction >= 1:
		return ProgressSteps
	}
	return int(fraction * ProgressSteps)
}
