package session

import "time"

// ComputeRemaining returns the whole seconds left in a timed session. The
// result is bounded by both the time limit measured from start and the due
// date, and is never negative. A zero due means no due date.
func ComputeRemaining(now, start time.Time, timeLimitMinutes int, due time.Time) int {
	elapsed := floorSeconds(now.Sub(start))
	remaining := max(0, int64(timeLimitMinutes)*60-elapsed)

	if !due.IsZero() {
		remaining = min(remaining, floorSeconds(due.Sub(now)))
	}
	return int(max(0, remaining))
}

// floorSeconds rounds toward negative infinity, so a clock running slightly
// ahead of start still yields a full limit.
func floorSeconds(d time.Duration) int64 {
	ms := d.Milliseconds()
	s := ms / 1000
	if ms%1000 != 0 && ms < 0 {
		s--
	}
	return s
}

// Deadline is the immutable timing input of a session.
type Deadline struct {
	Start            time.Time
	TimeLimitMinutes int
	Due              time.Time
}

// HasLimit reports whether the session runs a countdown.
func (d Deadline) HasLimit() bool {
	return d.TimeLimitMinutes > 0
}

// Remaining is ComputeRemaining for d.
func (d Deadline) Remaining(now time.Time) int {
	return ComputeRemaining(now, d.Start, d.TimeLimitMinutes, d.Due)
}
