// Package system provides the wall clock that stamps archive entries.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to whole seconds, the
// resolution a GNU tar header keeps.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
