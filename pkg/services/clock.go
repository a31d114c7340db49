package services

import "time"

// Clock supplies the current time to every rule mutation path.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystemClock returns a Clock reading the wall clock in UTC at the
// microsecond precision PostgreSQL stores.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
