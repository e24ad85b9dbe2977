package engine

import "time"

// Clock supplies wall-clock time for LastSyncedAt stamps and attempt
// durations. Implemented by SystemClock (production) and testutil.FakeClock
// (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
//
// Thread-safety: SystemClock is stateless and safe for concurrent use.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
