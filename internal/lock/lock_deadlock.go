//go:build deadlock_test

package lock

import (
	"time"

	"github.com/sasha-s/go-deadlock"
)

func init() {
	// namespace resolution holds the lock only around map access, anything
	// longer than this is a bug
	deadlock.Opts.DeadlockTimeout = 30 * time.Second
}

type Mutex struct {
	deadlock.Mutex
}
