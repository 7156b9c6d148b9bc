package clock

import "time"

// Clock abstracts time so expiry and cooldown logic can be tested against a
// fake time source.
type Clock interface {
	Now() time.Time
}

// System is the production clock backed by time.Now.
type System struct{}

// New returns a System clock.
func New() *System {
	return &System{}
}

// Now returns the current system time.
func (*System) Now() time.Time {
	return time.Now()
}
