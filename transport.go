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

package iccard

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ShareMode controls how the OS-level card session is shared with other
// processes when connecting to a reader.
type ShareMode int

const (
	// ShareShared allows other applications to use the reader concurrently.
	ShareShared ShareMode = iota
	// ShareExclusive claims the reader for this process only.
	ShareExclusive
	// ShareDirect connects to the reader without requiring a card.
	ShareDirect
)

// Protocol selects the card communication protocol for a session.
type Protocol int

const (
	// ProtocolAny lets the driver negotiate T=0 or T=1.
	ProtocolAny Protocol = iota
	// ProtocolT0 forces the T=0 character protocol.
	ProtocolT0
	// ProtocolT1 forces the T=1 block protocol. FeliCa readers use this.
	ProtocolT1
)

// Transport defines the interface for communication with a contactless
// reader. The production implementation wraps the native PC/SC driver;
// tests use MockTransport.
//
// A Transport owns at most one reader session at a time. Establishing the
// underlying driver context may acquire an exclusive OS resource, so the
// lifetime is scoped: acquired once when the session controller starts and
// released exactly once by Close, even when an error unwinds the caller.
type Transport interface {
	// ListReaders enumerates attached reader names. An empty list is not
	// an error; it means no hardware is present.
	ListReaders() ([]string, error)

	// Connect opens a session against the named reader. Fails with
	// ErrReaderUnavailable (possibly wrapped) when the reader is gone, and
	// with ErrNoCard when connecting requires a card and none is present.
	Connect(reader string, mode ShareMode, proto Protocol) error

	// Transmit sends a raw command frame and returns the response payload.
	// maxResp is the expected maximum response size in bytes.
	Transmit(ctx context.Context, cmd []byte, maxResp int) ([]byte, error)

	// Disconnect ends the current card session but keeps the driver
	// context so another Connect can follow.
	Disconnect() error

	// Close releases the driver context. The transport is unusable after.
	Close() error

	// IsConnected returns true while a card session is open
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportPCSC represents the native PC/SC smart-card transport.
	TransportPCSC TransportType = "pcsc"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// MonitorEvent reports a hardware-level card state change on a reader.
type MonitorEvent struct {
	Reader   string
	Inserted bool // true on insert, false on removal
	At       time.Time
}

// CardMonitor delivers card-inserted/removed hardware events. Only the
// event-driven session variant uses it; the polling variant never asks
// for one.
type CardMonitor interface {
	// Events returns the event stream. The channel closes when the
	// monitor is closed or the underlying driver context goes away.
	Events() <-chan MonitorEvent

	// Close stops the monitor and releases its driver resources.
	Close() error
}

// MonitorCapable is an optional Transport capability for transports that
// can deliver hardware insertion events without polling.
type MonitorCapable interface {
	// Monitor starts watching the connected reader for card state changes.
	Monitor() (CardMonitor, error)
}

// TransportWithRetry wraps a Transport with retry logic on Transmit.
// Connect and ListReaders are passed through untouched: enumerating zero
// readers is a valid answer, and a failed connect is surfaced to the
// session controller's own reconnect state machine.
type TransportWithRetry struct {
	transport Transport
	config    *RetryConfig
}

// NewTransportWithRetry creates a new transport wrapper with retry logic
func NewTransportWithRetry(transport Transport, config *RetryConfig) *TransportWithRetry {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &TransportWithRetry{
		transport: transport,
		config:    config,
	}
}

// ListReaders enumerates attached readers
func (t *TransportWithRetry) ListReaders() ([]string, error) {
	return t.transport.ListReaders()
}

// Connect opens a session against the named reader
func (t *TransportWithRetry) Connect(reader string, mode ShareMode, proto Protocol) error {
	return t.transport.Connect(reader, mode, proto)
}

// Transmit sends a command frame with retry logic
func (t *TransportWithRetry) Transmit(ctx context.Context, cmd []byte, maxResp int) ([]byte, error) {
	var result []byte
	err := RetryWithConfig(ctx, t.config, func() error {
		var err error
		result, err = t.transport.Transmit(ctx, cmd, maxResp)
		if err != nil {
			return &TransportError{
				Op:        "Transmit",
				Err:       err,
				Type:      GetErrorType(err),
				Retryable: IsRetryable(err),
			}
		}
		return nil
	})
	return result, err
}

// Disconnect ends the current card session
func (t *TransportWithRetry) Disconnect() error {
	return t.transport.Disconnect()
}

// Close releases the underlying transport
func (t *TransportWithRetry) Close() error {
	return t.transport.Close()
}

// IsConnected returns true while a card session is open
func (t *TransportWithRetry) IsConnected() bool {
	return t.transport.IsConnected()
}

// Type returns the underlying transport type
func (t *TransportWithRetry) Type() TransportType {
	return t.transport.Type()
}

// Monitor forwards to the underlying transport when it supports monitoring
func (t *TransportWithRetry) Monitor() (CardMonitor, error) {
	if mc, ok := t.transport.(MonitorCapable); ok {
		return mc.Monitor()
	}
	return nil, errors.New("transport does not support card monitoring")
}

// SetRetryConfig updates the retry configuration
func (t *TransportWithRetry) SetRetryConfig(config *RetryConfig) {
	t.config = config
}

// MockTransport provides a mock implementation of Transport for testing.
// Responses are keyed by the FeliCa command code (first frame byte); a
// response queue per command allows scripting multi-block reads.
type MockTransport struct {
	responses map[byte][]byte
	queues    map[byte][][]byte
	errorMap  map[byte]error
	callCount map[byte]int
	readers   []string
	delay     time.Duration
	mu        sync.RWMutex
	connected bool
	closed    bool
}

// NewMockTransport creates a new mock transport with one fake reader
func NewMockTransport() *MockTransport {
	return &MockTransport{
		readers:   []string{"Mock FeliCa Reader 0"},
		responses: make(map[byte][]byte),
		queues:    make(map[byte][][]byte),
		errorMap:  make(map[byte]error),
		callCount: make(map[byte]int),
	}
}

// ListReaders implements Transport
func (m *MockTransport) ListReaders() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrTransportClosed
	}
	out := make([]string, len(m.readers))
	copy(out, m.readers)
	return out, nil
}

// Connect implements Transport
func (m *MockTransport) Connect(reader string, _ ShareMode, _ Protocol) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrTransportClosed
	}
	for _, r := range m.readers {
		if r == reader {
			m.connected = true
			return nil
		}
	}
	return ErrReaderUnavailable
}

// Transmit implements Transport
func (m *MockTransport) Transmit(ctx context.Context, cmd []byte, _ int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if len(cmd) == 0 {
		return nil, ErrInvalidFrame
	}

	m.mu.RLock()
	connected := m.connected
	delay := m.delay
	m.mu.RUnlock()

	if !connected {
		return nil, ErrTransportClosed
	}

	// Simulate hardware delay if configured
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	code := cmd[0]

	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount[code]++

	if err, exists := m.errorMap[code]; exists {
		return nil, err
	}

	if queue, exists := m.queues[code]; exists && len(queue) > 0 {
		resp := queue[0]
		m.queues[code] = queue[1:]
		return resp, nil
	}

	if response, exists := m.responses[code]; exists {
		return response, nil
	}

	return nil, ErrNoCard
}

// Disconnect implements Transport
func (m *MockTransport) Disconnect() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// Close implements Transport
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.connected = false
	m.closed = true
	m.mu.Unlock()
	return nil
}

// IsConnected implements Transport
func (m *MockTransport) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Type implements Transport
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// SetReaders replaces the fake reader list. An empty list simulates
// unplugged hardware.
func (m *MockTransport) SetReaders(readers ...string) {
	m.mu.Lock()
	m.readers = readers
	m.mu.Unlock()
}

// SetResponse configures a static response for a command code
func (m *MockTransport) SetResponse(code byte, response []byte) {
	m.mu.Lock()
	m.responses[code] = response
	m.mu.Unlock()
}

// QueueResponses appends scripted responses for a command code; they are
// consumed in order before any static response applies.
func (m *MockTransport) QueueResponses(code byte, responses ...[]byte) {
	m.mu.Lock()
	m.queues[code] = append(m.queues[code], responses...)
	m.mu.Unlock()
}

// SetError configures an error to be returned for a command code
func (m *MockTransport) SetError(code byte, err error) {
	m.mu.Lock()
	m.errorMap[code] = err
	m.mu.Unlock()
}

// ClearError removes error injection for a command code
func (m *MockTransport) ClearError(code byte) {
	m.mu.Lock()
	delete(m.errorMap, code)
	m.mu.Unlock()
}

// ClearResponses removes all scripted and static responses
func (m *MockTransport) ClearResponses() {
	m.mu.Lock()
	m.responses = make(map[byte][]byte)
	m.queues = make(map[byte][][]byte)
	m.mu.Unlock()
}

// SetDelay configures a delay to simulate hardware response time
func (m *MockTransport) SetDelay(delay time.Duration) {
	m.mu.Lock()
	m.delay = delay
	m.mu.Unlock()
}

// GetCallCount returns how many times a command code was transmitted
func (m *MockTransport) GetCallCount(code byte) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount[code]
}

// Reset clears call counts and reopens the transport
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.callCount = make(map[byte]int)
	m.connected = false
	m.closed = false
	m.mu.Unlock()
}
