//go:build !deadlock_test

// Package lock provides the mutex used for state shared between mirror workers.
// Building with the `deadlock_test` tag swaps it for go-deadlock so that
// integration runs can detect lock ordering problems.
package lock

import "sync"

type Mutex struct {
	sync.Mutex
}
