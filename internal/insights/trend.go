package insights

import (
	"time"

	"github.com/gosight/gosight/analyzer/internal/model"
)

const DefaultTolerance = 0.2

// Windows are two adjacent equal-length windows ending at End
type Windows struct {
	PreviousStart time.Time
	CurrentStart  time.Time
	End           time.Time
	Length        time.Duration
}

// NewWindows builds [now-2w, now-w) and [now-w, now)
func NewWindows(now time.Time, length time.Duration) Windows {
	return Windows{
		PreviousStart: now.Add(-2 * length),
		CurrentStart:  now.Add(-length),
		End:           now,
		Length:        length,
	}
}

// InCurrent reports whether ts falls in the trailing window
func (w Windows) InCurrent(ts time.Time) bool {
	return !ts.Before(w.CurrentStart) && ts.Before(w.End)
}

// InPrevious reports whether ts falls in the preceding window
func (w Windows) InPrevious(ts time.Time) bool {
	return !ts.Before(w.PreviousStart) && ts.Before(w.CurrentStart)
}

// Velocity is occurrences per day over a window
func Velocity(count int, length time.Duration) float64 {
	days := length.Hours() / 24
	if days <= 0 {
		return float64(count)
	}
	return float64(count) / days
}

// ComputeTrend compares occurrence velocity in two adjacent equal-length
// windows. A change within tolerance (a fraction of the previous velocity) is
// stable; no previous-window data is new.
func ComputeTrend(previous, current int, length time.Duration, tolerance float64) model.Trend {
	if previous <= 0 {
		return model.TrendNew
	}
	if tolerance < 0 {
		tolerance = 0
	}

	prev := Velocity(previous, length)
	cur := Velocity(current, length)

	switch {
	case cur > prev*(1+tolerance):
		return model.TrendWorsening
	case cur < prev*(1-tolerance):
		return model.TrendImproving
	default:
		return model.TrendStable
	}
}
