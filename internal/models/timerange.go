package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRange is returned when a range fails construction validation.
var ErrInvalidRange = errors.New("invalid time range")

// TimeRange is a half-open [StartSec, EndSec) span of seconds.
// Construct with NewTimeRange; the zero value is not valid.
type TimeRange struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

// NewTimeRange validates start >= 0 and end > start.
func NewTimeRange(startSec, endSec float64) (TimeRange, error) {
	if startSec < 0 {
		return TimeRange{}, fmt.Errorf("%w: start %.2f < 0", ErrInvalidRange, startSec)
	}
	if endSec <= startSec {
		return TimeRange{}, fmt.Errorf("%w: end %.2f <= start %.2f", ErrInvalidRange, endSec, startSec)
	}
	return TimeRange{StartSec: startSec, EndSec: endSec}, nil
}

// DurationSec returns end - start.
func (r TimeRange) DurationSec() float64 {
	return r.EndSec - r.StartSec
}

// WithBuffer expands the range symmetrically by ratio*duration on each side.
// The lower bound is clamped to zero; the upper bound is left unclamped,
// callers clamp to the video duration where it matters.
func (r TimeRange) WithBuffer(ratio float64) TimeRange {
	buf := r.DurationSec() * ratio
	start := r.StartSec - buf
	if start < 0 {
		start = 0
	}
	return TimeRange{StartSec: start, EndSec: r.EndSec + buf}
}

// ConvertToAbsolute maps a clip-relative range back to video time:
// absolute = clipStart + relative, applied to both bounds.
func ConvertToAbsolute(clipStartSec float64, relative TimeRange) TimeRange {
	return TimeRange{
		StartSec: clipStartSec + relative.StartSec,
		EndSec:   clipStartSec + relative.EndSec,
	}
}

// FFmpegStart formats the start bound as an ffmpeg -ss argument.
func (r TimeRange) FFmpegStart() string {
	return FormatClock(r.StartSec)
}

// FFmpegDuration formats the duration as an ffmpeg -t argument.
func (r TimeRange) FFmpegDuration() string {
	return FormatClock(r.DurationSec())
}

// FormatClock renders seconds as HH:MM:SS.cc with hundredths precision.
func FormatClock(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	whole := int(math.Floor(sec))
	centis := int(math.Round((sec - float64(whole)) * 100))
	if centis == 100 {
		whole++
		centis = 0
	}
	h := whole / 3600
	m := (whole % 3600) / 60
	s := whole % 60
	return fmt.Sprintf("%02d:%02d:%02d.%02d", h, m, s, centis)
}

// String renders the range for logs.
func (r TimeRange) String() string {
	return fmt.Sprintf("[%s - %s]", FormatClock(r.StartSec), FormatClock(r.EndSec))
}
