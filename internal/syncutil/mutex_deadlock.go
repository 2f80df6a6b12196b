//go:build deadlock

// Package syncutil provides the mutex types guarding the reader transport
// and session state. This file is compiled with -tags=deadlock and swaps
// in lock-order checking via github.com/sasha-s/go-deadlock.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// Mutex wraps deadlock.Mutex for lock-order checking.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex wraps deadlock.RWMutex for lock-order checking.
type RWMutex struct {
	deadlock.RWMutex
}
