package app

import "time"

// Clock supplies the current time. Expiry decisions go through a Clock so they
// can be tested with an advanceable fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}
