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
)

// CardDetectedEvent is raised once per card presentation, after duplicate
// suppression. Events fire in presentation order but carry no guarantee
// about which goroutine delivers them; the consumer marshals onto its own
// execution context.
type CardDetectedEvent struct {
	DetectedAt time.Time
	IDm        iccard.IDm
	SystemCode uint16
}

// ErrorEvent surfaces a failure from the background activities. Errors
// inside the polling and health-check callbacks are never allowed to
// escape; this event is the only way they reach the consumer.
type ErrorEvent struct {
	At  time.Time
	Err error
}

// ConnectionStateEvent is raised on every ConnectionState transition.
// Consecutive identical states are never re-emitted.
type ConnectionStateEvent struct {
	State      ConnectionState
	Message    string
	RetryCount int
}

// SetOnCardDetected sets the callback for new card presentations.
func (c *Controller) SetOnCardDetected(callback func(CardDetectedEvent)) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.onCardDetected = callback
}

// SetOnError sets the callback for background failures.
func (c *Controller) SetOnError(callback func(ErrorEvent)) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.onError = callback
}

// SetOnConnectionStateChanged sets the callback for connectivity
// transitions.
func (c *Controller) SetOnConnectionStateChanged(callback func(ConnectionStateEvent)) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.onConnectionState = callback
}

// emitError delivers an error event with panic recovery; a panicking
// consumer must not take down a timer goroutine.
func (c *Controller) emitError(err error) {
	c.stateMu.RLock()
	cb := c.onError
	c.stateMu.RUnlock()
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Error("error callback panicked")
		}
	}()
	cb(ErrorEvent{At: time.Now(), Err: err})
}

// emitCardDetected delivers a card-detected event with panic recovery.
func (c *Controller) emitCardDetected(ev CardDetectedEvent) {
	c.stateMu.RLock()
	cb := c.onCardDetected
	c.stateMu.RUnlock()
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Error("card-detected callback panicked")
		}
	}()
	cb(ev)
}
