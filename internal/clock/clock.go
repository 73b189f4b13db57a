package clock

import "time"

// Clock abstracts time so debounce and retry scheduling can be driven
// deterministically in tests. A single scheduler owns every pending
// timer it creates; Stop releases the handle.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// New returns a Clock backed by the runtime timers.
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
