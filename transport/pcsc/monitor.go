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

package pcsc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebfe/scard"

	iccard "github.com/kuwayamamasayuki/ICCardManager-sub005"
)

// monitorWaitTimeout bounds each GetStatusChange wait so a Close is
// noticed even when the driver ignores Cancel.
const monitorWaitTimeout = 2 * time.Second

// monitor watches one reader for card insert/remove transitions using a
// dedicated PC/SC context, so its blocking GetStatusChange never contends
// with the transport's command traffic.
type monitor struct {
	ctx    *scard.Context
	events chan iccard.MonitorEvent
	done   chan struct{}
	reader string
	once   sync.Once
}

// Monitor implements iccard.MonitorCapable. The transport must have been
// connected (or at least probed) so a reader name is known; with none, the
// first enumerated reader is watched.
func (t *Transport) Monitor() (iccard.CardMonitor, error) {
	t.mu.Lock()
	reader := t.reader
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, iccard.ErrTransportClosed
	}

	if reader == "" {
		readers, err := t.ListReaders()
		if err != nil {
			return nil, err
		}
		if len(readers) == 0 {
			return nil, iccard.ErrReaderUnavailable
		}
		reader = readers[0]
	}

	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", iccard.ErrDriverMissing, err)
	}

	m := &monitor{
		ctx:    ctx,
		reader: reader,
		events: make(chan iccard.MonitorEvent, 8),
		done:   make(chan struct{}),
	}
	go m.watch()
	return m, nil
}

// Events implements iccard.CardMonitor
func (m *monitor) Events() <-chan iccard.MonitorEvent {
	return m.events
}

// Close implements iccard.CardMonitor
func (m *monitor) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		// Unblock a pending GetStatusChange; the watcher releases the
		// context when it exits.
		err = m.ctx.Cancel()
	})
	return err
}

// watch loops on GetStatusChange and translates presence transitions into
// monitor events.
func (m *monitor) watch() {
	defer close(m.events)
	defer func() { _ = m.ctx.Release() }()

	states := []scard.ReaderState{{
		Reader:       m.reader,
		CurrentState: scard.StateUnaware,
	}}

	for {
		select {
		case <-m.done:
			return
		default:
		}

		err := m.ctx.GetStatusChange(states, monitorWaitTimeout)
		if errors.Is(err, scard.ErrTimeout) {
			continue
		}
		if err != nil {
			// Cancelled close or a dead driver context; either way the
			// stream is over.
			return
		}

		event := states[0].EventState
		current := states[0].CurrentState
		if event&scard.StateChanged == 0 {
			continue
		}

		wasPresent := current&scard.StatePresent != 0
		isPresent := event&scard.StatePresent != 0
		if wasPresent != isPresent {
			ev := iccard.MonitorEvent{Reader: m.reader, Inserted: isPresent, At: time.Now()}
			select {
			case m.events <- ev:
			case <-m.done:
				return
			default:
				// Consumer is behind; drop rather than block the watcher.
			}
		}

		states[0].CurrentState = event
	}
}
