// Package clock abstracts time for testability. Production code injects
// Real(); tests inject a Fake with deterministic control over Now.
package clock

import "time"

// Clock supplies the current time. Components that make time-based
// decisions (demo completion thresholds, poll deadlines) read it from a
// Clock field instead of calling time.Now directly.
type Clock interface {
	Now() time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
