// Package admitflow provides the application processing workflow core for
// student admissions: the application status lifecycle, the state machine
// engine that drives it, the domain model shared by the workflow packages and
// the typed errors they return.
//
// The lifecycle is defined once with the fluent builder (see Lifecycle) and
// every status change, whether it comes from an agent, an administrator, the
// automated pre-validation or per-document review, goes through
// Definition.Fire.
package admitflow

import "time"

// Clock is the time source used for submission dates, lastUpdated stamps and
// stalled-application thresholds
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface
type ClockFunc func() time.Time

// Now returns the function's result
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

// Now returns the current UTC time
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a clock that always reports t
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}
