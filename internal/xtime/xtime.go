package xtime

import (
	"sync"
	"time"
)

var (
	mux  sync.Mutex
	last time.Time
)

// Now returns the current UTC time. Consecutive calls within the same process
// return strictly increasing times, even on machines whose clock does not
// provide nanosecond precision.
func Now() time.Time {
	now := time.Now().UTC().Round(0)

	mux.Lock()
	defer mux.Unlock()

	if !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	last = now

	return now
}
