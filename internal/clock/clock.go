// Package clock abstracts the timers used by typing indicators and gestures
// so that tests can drive them by hand.
package clock

import "time"

// Timer is the part of *time.Timer callers need
type Timer interface {
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Real is backed by the time package
var Real Clock = realClock{}
