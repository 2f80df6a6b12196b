// Copyright 2026 The ICCardManager Authors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"time"

	iccard "github.com/kuwayamamasayuki/ICCardManager-sub005"
	"github.com/kuwayamamasayuki/ICCardManager-sub005/internal/syncutil"
)

// ConnectionState is the observable reader connectivity state. It is owned
// exclusively by the Controller; transitions drive the
// connection-state-changed event, and consecutive identical states never
// re-emit.
type ConnectionState int

const (
	// Disconnected means no usable reader path.
	Disconnected ConnectionState = iota
	// Connected means the reader/driver path is healthy.
	Connected
	// Reconnecting means the health check lost the reader and recovery is
	// in progress.
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// runState is the controller lifecycle state machine, orthogonal to
// ConnectionState.
type runState int

const (
	runStopped runState = iota
	runStarting
	runRunning
	runStopping
)

func (s runState) String() string {
	switch s {
	case runStarting:
		return "starting"
	case runRunning:
		return "running"
	case runStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// suppressionWindow debounces repeated detections of the same physical
// card. It is mutated only by the detection poll, under its own lock,
// independent of the transport mutex held by long read operations.
type suppressionWindow struct {
	lastSeen time.Time
	lastIDm  iccard.IDm
	mu       syncutil.Mutex
}

// observe records a detection and reports whether it should be suppressed
// as a duplicate: same identifier seen again inside the window. A
// different identifier always passes, and always restarts the window.
func (w *suppressionWindow) observe(idm iccard.IDm, now time.Time, window time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	duplicate := idm.Equal(w.lastIDm) && !w.lastSeen.IsZero() && now.Sub(w.lastSeen) < window

	w.lastIDm = idm
	w.lastSeen = now
	return duplicate
}

// reset clears the window so the next detection is always surfaced.
// Called on controller stop/start.
func (w *suppressionWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastIDm = iccard.IDm{}
	w.lastSeen = time.Time{}
}
