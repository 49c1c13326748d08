package util

import "time"

// Clock abstracts the current time so that time-dependent decisions, such
// as worker liveness, can be pinned in tests.
type Clock interface {
	Now() time.Time
}

type DefaultClock struct{}

func (c *DefaultClock) Now() time.Time { return time.Now() }

// DummyClock reports the fixed time T.
type DummyClock struct {
	T time.Time
}

func (c *DummyClock) Now() time.Time {
	return c.T
}
