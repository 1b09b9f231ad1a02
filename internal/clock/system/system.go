// Package system provides the wall clock used by the mock backend.
package system

import "time"

// Clock stamps tasks and chat messages with UTC time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
