// Package common holds small helpers shared across the pipeline.
package common

import "time"

// Timer measures elapsed wall-clock time.
type Timer struct {
	start time.Time
}

// StartTimer starts a new timer.
func StartTimer() Timer {
	return Timer{start: time.Now()}
}

// Elapsed returns the time since the timer was started.
func (t Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Seconds returns the elapsed time in seconds, the unit the result
// structs and sidecars report timings in.
func (t Timer) Seconds() float64 {
	return t.Elapsed().Seconds()
}

// Stopwatch accumulates named stage durations for a file's phase timing
// map. Each Lap records the time since the previous one.
type Stopwatch struct {
	timings map[string]float64
	last    time.Time
}

// NewStopwatch starts a stopwatch with an empty timing map.
func NewStopwatch() *Stopwatch {
	return &Stopwatch{
		timings: map[string]float64{},
		last:    time.Now(),
	}
}

// Lap records the duration since the last lap (or start) under name and
// resets the lap clock. Repeated laps with the same name accumulate.
func (s *Stopwatch) Lap(name string) {
	now := time.Now()
	s.timings[name] += now.Sub(s.last).Seconds()
	s.last = now
}

// Skip resets the lap clock without recording, for stretches that do not
// belong to any stage.
func (s *Stopwatch) Skip() {
	s.last = time.Now()
}

// Timings returns the accumulated stage durations in seconds.
func (s *Stopwatch) Timings() map[string]float64 {
	return s.timings
}
