//go:build !deadlock

// Package syncutil provides the mutex types guarding the reader transport
// and session state. The default build uses plain sync primitives with
// zero overhead; build with -tags=deadlock to swap in lock-order checking
// via github.com/sasha-s/go-deadlock, useful when changing how the
// transport and state locks nest.
package syncutil

import "sync"

// Mutex is sync.Mutex unless the deadlock build tag is set.
type Mutex struct {
	sync.Mutex
}

// RWMutex is sync.RWMutex unless the deadlock build tag is set.
type RWMutex struct {
	sync.RWMutex
}
