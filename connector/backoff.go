package connector

import "time"

// BackoffPolicy computes the retry delay for a failed submission attempt.
// Attempt n waits Initial * 2^(n-1), bounded by Max. Delays are monotonically
// non-decreasing in the attempt number.
type BackoffPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p BackoffPolicy) Delay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = 2 * time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 5 * time.Minute
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}
