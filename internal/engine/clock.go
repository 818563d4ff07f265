package engine

import "time"

// Clock abstracts time for the engine so due-date parsing, staleness
// checks, and daemon scheduling are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the real UTC clock.
func SystemClock() Clock { return systemClock{} }
