// Package common holds small measurement helpers shared by the classifier
// and the batch runner.
package common

import (
	"log/slog"
	"time"
)

// Lap is one named segment of a Stopwatch.
type Lap struct {
	Name     string
	Duration time.Duration
}

// Stopwatch records consecutive named laps. It is not safe for concurrent use.
type Stopwatch struct {
	start time.Time
	last  time.Time
	laps  []Lap
}

// StartStopwatch returns a running stopwatch.
func StartStopwatch() *Stopwatch {
	now := time.Now()
	return &Stopwatch{start: now, last: now}
}

// Lap closes the current segment under name and returns its duration.
func (s *Stopwatch) Lap(name string) time.Duration {
	now := time.Now()
	d := now.Sub(s.last)
	s.last = now
	s.laps = append(s.laps, Lap{Name: name, Duration: d})
	return d
}

// Laps returns the recorded segments in order.
func (s *Stopwatch) Laps() []Lap {
	out := make([]Lap, len(s.laps))
	copy(out, s.laps)
	return out
}

// Total is the time since the stopwatch started.
func (s *Stopwatch) Total() time.Duration { return time.Since(s.start) }

// LogValue renders the laps as a group of millisecond values.
func (s *Stopwatch) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(s.laps)+1)
	for _, l := range s.laps {
		attrs = append(attrs, slog.Float64(l.Name+"_ms", ms(l.Duration)))
	}
	attrs = append(attrs, slog.Float64("total_ms", ms(s.last.Sub(s.start))))
	return slog.GroupValue(attrs...)
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
