package pipeline

// Throttle gates emotion sampling to every Nth accepted candidate.
// The counter persists across frames for the lifetime of the cycle.
type Throttle struct {
	interval int
	counter  int
}

// NewThrottle creates a throttle; intervals below 1 are treated as 1
func NewThrottle(interval int) *Throttle {
	if interval < 1 {
		interval = 1
	}
	return &Throttle{interval: interval}
}

// Next counts one candidate and reports whether it is eligible for sampling
func (t *Throttle) Next() bool {
	t.counter++
	return t.counter%t.interval == 0
}

// Count returns the number of candidates seen so far
func (t *Throttle) Count() int {
	return t.counter
}

// Interval returns the configured interval
func (t *Throttle) Interval() int {
	return t.interval
}
