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

// Package session implements the card session controller: connection
// lifecycle, detection polling, duplicate suppression, the health-check
// state machine, and the history/balance read operations built on the
// reader transport.
package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	iccard "github.com/kuwayamamasayuki/ICCardManager-sub005"
	"github.com/kuwayamamasayuki/ICCardManager-sub005/history"
	"github.com/kuwayamamasayuki/ICCardManager-sub005/internal/syncutil"
)

// Controller drives one contactless reader. It owns two background
// activities while running: a sub-second detection poll and a slower
// health check. Both are serialized against the explicit read operations
// behind a single transport mutex, because the native driver handle is not
// thread-safe.
//
// Known limitation: there is no per-command timeout beyond what the
// transport enforces. A native call that hangs inside the driver blocks
// the transport mutex holder, which stalls polling and health checks until
// it returns. Stop is the only cancellation primitive.
type Controller struct {
	transport iccard.Transport
	config    *Config
	log       *logrus.Entry

	// transportMu serializes every transport call: detection poll, health
	// check, and the explicit reads. Never held while invoking callbacks.
	transportMu syncutil.Mutex

	stateMu           syncutil.RWMutex
	run               runState
	connState         ConnectionState
	retryCount        int
	readerName        string
	stopCh            chan struct{}
	onCardDetected    func(CardDetectedEvent)
	onError           func(ErrorEvent)
	onConnectionState func(ConnectionStateEvent)

	wg sync.WaitGroup

	suppression suppressionWindow

	// pollBusy is the non-reentrancy guard for the detection poll. A tick
	// arriving while the previous one is still talking to the driver
	// returns immediately; it must never queue or overlap. The health
	// check also skips while this is set.
	pollBusy     atomic.Bool
	reconnecting atomic.Bool
}

// NewController creates a controller over the given transport. A nil
// config uses DefaultConfig.
func NewController(transport iccard.Transport, config *Config) *Controller {
	cfg := config.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{
		transport: transport,
		config:    cfg,
		log:       logger.WithField("component", "session"),
		run:       runStopped,
		connState: Disconnected,
	}
}

// ConnectionState returns the current observable connectivity state.
func (c *Controller) ConnectionState() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.connState
}

// Running reports whether the background activities are active.
func (c *Controller) Running() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.run == runRunning
}

// Reader returns the name of the reader the controller is bound to.
func (c *Controller) Reader() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.readerName
}

// Start probes for a reader and begins the detection poll and health
// check. It fails with an error wrapping iccard.ErrReaderUnavailable when
// the transport reports no readers or the driver cannot be probed.
//
// Start is not idempotent: calling it while running performs a full Stop
// first, so timers are never duplicated. A Stop that arrives while Start
// is still probing the reader wins: Start then backs out without spawning
// the loops and reports failure.
func (c *Controller) Start() error {
	c.stateMu.Lock()
	alreadyUp := c.run != runStopped
	c.stateMu.Unlock()
	if alreadyUp {
		if err := c.Stop(); err != nil {
			return fmt.Errorf("restart: stopping previous session: %w", err)
		}
	}

	c.stateMu.Lock()
	if c.run != runStopped {
		c.stateMu.Unlock()
		return errors.New("session controller is already starting")
	}
	c.run = runStarting
	c.stateMu.Unlock()

	reader, err := c.probeReader()
	if err != nil {
		c.stateMu.Lock()
		c.run = runStopped
		c.stateMu.Unlock()
		c.setConnectionState(Disconnected, "reader probe failed", 0)
		return err
	}

	c.suppression.reset()

	stopCh := make(chan struct{})
	c.stateMu.Lock()
	if c.run != runStarting {
		// A Stop raced the reader probe. It saw no loops and no stop
		// channel, so it has nothing left to cancel; spawning the loops now
		// would leave them unstoppable. Back out instead.
		c.stateMu.Unlock()
		c.transportMu.Lock()
		if c.transport.IsConnected() {
			_ = c.transport.Disconnect()
		}
		c.transportMu.Unlock()
		return errors.New("session stopped during start")
	}
	c.readerName = reader
	c.retryCount = 0
	c.stopCh = stopCh
	c.run = runRunning
	c.stateMu.Unlock()

	c.setConnectionState(Connected, fmt.Sprintf("reader %q ready", reader), 0)
	c.log.WithField("reader", reader).Info("session started")

	c.wg.Add(2)
	go c.detectionLoop(stopCh)
	go c.healthLoop(stopCh)
	return nil
}

// Stop cancels both background activities, clears the duplicate
// suppression window and disconnects the card session. It returns only
// after the loops are confirmed halted: no detection callback fires after
// Stop returns.
func (c *Controller) Stop() error {
	c.stateMu.Lock()
	if c.run == runStopped || c.run == runStopping {
		c.stateMu.Unlock()
		return nil
	}
	c.run = runStopping
	stopCh := c.stopCh
	c.stopCh = nil
	c.stateMu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	c.wg.Wait()

	c.transportMu.Lock()
	if c.transport.IsConnected() {
		_ = c.transport.Disconnect()
	}
	c.transportMu.Unlock()

	c.suppression.reset()

	c.stateMu.Lock()
	c.run = runStopped
	c.stateMu.Unlock()
	c.setConnectionState(Disconnected, "session stopped", 0)
	c.log.Info("session stopped")
	return nil
}

// Reconnect performs Stop followed by Start. It is itself a recovery
// action, so a failure of the start leg is logged and surfaced through the
// error event rather than returned; it must not crash its caller.
func (c *Controller) Reconnect() {
	c.log.Info("reconnecting reader session")
	if err := c.Stop(); err != nil {
		c.log.WithError(err).Warn("reconnect: stop failed")
	}
	if err := c.Start(); err != nil {
		c.log.WithError(err).Warn("reconnect failed, session left stopped")
		c.emitError(fmt.Errorf("reconnect: %w", err))
	}
}

// CheckConnection is a best-effort probe of the reader/driver path. Any
// probe failure counts as "available" unless it specifically indicates the
// native driver library is missing: a card-less reader fails probes all
// day, a missing driver is a real fault.
func (c *Controller) CheckConnection() bool {
	c.transportMu.Lock()
	defer c.transportMu.Unlock()

	readers, err := c.transport.ListReaders()
	if err != nil {
		return !errors.Is(err, iccard.ErrDriverMissing)
	}
	return len(readers) > 0
}

// ReadHistory reads the card's transaction log and assembles it into
// ledger entries. The supplied identifier is re-verified against whatever
// is on the reader first; on mismatch or absence the result is an empty
// slice, never an error, since the card may simply have been lifted.
// Blocks are read until a refused block, an all-zero block, or the
// configured cap.
func (c *Controller) ReadHistory(ctx context.Context, idm iccard.IDm) ([]history.LedgerDetail, error) {
	c.transportMu.Lock()
	defer c.transportMu.Unlock()

	if !c.verifyCardLocked(ctx, idm, "history") {
		return []history.LedgerDetail{}, nil
	}

	records := make([]*history.Record, 0, c.config.MaxHistoryBlocks)
	for block := 0; block < c.config.MaxHistoryBlocks; block++ {
		raw, err := c.readBlockLocked(ctx, idm, iccard.ServiceCodeHistory, uint8(block))
		if err != nil {
			if iccard.IsFatal(err) {
				return nil, fmt.Errorf("read history block %d: %w", block, err)
			}
			break
		}
		if raw == nil || history.IsEmptyBlock(raw) {
			break
		}
		rec := history.Decode(raw)
		if rec == nil {
			break
		}
		records = append(records, rec)
	}

	c.log.WithFields(logrus.Fields{"idm": idm.String(), "records": len(records)}).Debug("history read")
	return history.Assemble(records, c.config.Resolver, c.config.Area), nil
}

// ReadBalance reads the card's stored-fare balance. The dedicated balance
// service is tried first; on any failure of that path the newest history
// block's balance field is used instead. Returns ok=false, never an error,
// when both paths fail or the identifier no longer matches the card on the
// reader.
func (c *Controller) ReadBalance(ctx context.Context, idm iccard.IDm) (uint16, bool) {
	c.transportMu.Lock()
	defer c.transportMu.Unlock()

	if !c.verifyCardLocked(ctx, idm, "balance") {
		return 0, false
	}

	// Path A: dedicated balance service. A Request Service probe can rule
	// it out cheaply; probe failure just means "unknown", not "absent".
	tryBalanceService := true
	if vers, err := c.requestServiceLocked(ctx, idm, []uint16{iccard.ServiceCodeBalance}); err == nil &&
		len(vers) == 1 && iccard.ServiceAbsent(vers[0]) {
		tryBalanceService = false
	}
	if tryBalanceService {
		if raw, err := c.readBlockLocked(ctx, idm, iccard.ServiceCodeBalance, 0); err == nil && len(raw) >= 13 {
			return binary.LittleEndian.Uint16(raw[11:13]), true
		}
	}

	// Path B: balance field of the newest history record.
	if raw, err := c.readBlockLocked(ctx, idm, iccard.ServiceCodeHistory, 0); err == nil &&
		raw != nil && !history.IsEmptyBlock(raw) {
		if rec := history.Decode(raw); rec != nil {
			return rec.Balance, true
		}
	}

	return 0, false
}

// verifyCardLocked re-reads the identifier of whatever is currently on the
// reader and compares it to the caller's. "Nothing on the reader" and
// "different card" are the same failure: the detect-to-read window is long
// enough for a card swap, and data from the wrong card must never be
// attributed to the requested one. Caller holds transportMu.
func (c *Controller) verifyCardLocked(ctx context.Context, idm iccard.IDm, op string) bool {
	card, err := c.currentCardLocked(ctx)
	if err != nil {
		card = nil
	}
	if card == nil || !card.IDm.Equal(idm) {
		present := "none"
		if card != nil {
			present = card.IDm.String()
		}
		c.log.WithFields(logrus.Fields{
			"op":        op,
			"requested": idm.String(),
			"present":   present,
		}).Warn("card verification failed")
		return false
	}
	return true
}

// probeReader enumerates readers and picks the configured or first one.
func (c *Controller) probeReader() (string, error) {
	c.transportMu.Lock()
	defer c.transportMu.Unlock()

	readers, err := c.transport.ListReaders()
	if err != nil {
		return "", fmt.Errorf("%w: %w", iccard.ErrReaderUnavailable, err)
	}
	if len(readers) == 0 {
		return "", iccard.ErrReaderUnavailable
	}

	if c.config.ReaderName == "" {
		return readers[0], nil
	}
	for _, r := range readers {
		if r == c.config.ReaderName {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: reader %q not found", iccard.ErrReaderUnavailable, c.config.ReaderName)
}

// detectionLoop runs the detection poll until stopped. When hardware
// events are requested and the transport supports a card monitor, waits on
// insertion events instead of a timer.
func (c *Controller) detectionLoop(stopCh <-chan struct{}) {
	defer c.wg.Done()

	if c.config.UseHardwareEvents {
		if mc, ok := c.transport.(iccard.MonitorCapable); ok {
			mon, err := mc.Monitor()
			if err == nil {
				c.monitorLoop(stopCh, mon)
				return
			}
			c.log.WithError(err).Warn("card monitor unavailable, falling back to polling")
		}
	}

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.pollOnce()
		}
	}
}

// monitorLoop drives detection from hardware insertion events.
func (c *Controller) monitorLoop(stopCh <-chan struct{}, mon iccard.CardMonitor) {
	defer func() { _ = mon.Close() }()

	for {
		select {
		case <-stopCh:
			return
		case ev, ok := <-mon.Events():
			if !ok {
				return
			}
			if ev.Inserted {
				c.pollOnce()
			}
		}
	}
}

// pollOnce performs one detection cycle. It is non-reentrant: a tick that
// arrives while the previous cycle is still inside the driver returns
// without touching the transport. Failures never escape; at most they
// surface through the error event.
func (c *Controller) pollOnce() {
	if !c.pollBusy.CompareAndSwap(false, true) {
		return
	}
	defer c.pollBusy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Error("detection poll panicked")
		}
	}()

	card, err := c.currentCard(context.Background())
	if err != nil {
		if iccard.IsFatal(err) {
			c.emitError(fmt.Errorf("detection poll: %w", err))
		}
		return
	}
	if card == nil {
		return
	}

	if c.suppression.observe(card.IDm, time.Now(), c.config.DuplicateWindow) {
		return
	}

	c.log.WithFields(logrus.Fields{
		"idm":    card.IDm.String(),
		"system": fmt.Sprintf("%04X", card.SystemCode),
	}).Debug("card detected")

	c.emitCardDetected(CardDetectedEvent{
		DetectedAt: card.DetectedAt,
		IDm:        card.IDm,
		SystemCode: card.SystemCode,
	})
}

// healthLoop runs the connectivity probe until stopped.
func (c *Controller) healthLoop(stopCh <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.healthCheckOnce()
		}
	}
}

// healthCheckOnce probes the reader path and drives ConnectionState. It
// skips entirely while a detection poll is in flight so two activities
// never contend for the driver from different timers.
func (c *Controller) healthCheckOnce() {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Error("health check panicked")
		}
	}()

	if c.pollBusy.Load() {
		return
	}

	if c.CheckConnection() {
		c.stateMu.Lock()
		c.retryCount = 0
		c.stateMu.Unlock()
		c.setConnectionState(Connected, "reader available", 0)
		return
	}

	c.stateMu.Lock()
	c.retryCount++
	retries := c.retryCount
	c.stateMu.Unlock()

	c.log.WithField("retry", retries).Warn("reader unavailable")
	c.setConnectionState(Reconnecting, "reader unavailable", retries)

	// Reconnect stops both loops and must not run on this goroutine, or
	// Stop would wait on the very loop executing it.
	if c.reconnecting.CompareAndSwap(false, true) {
		go func() {
			defer c.reconnecting.Store(false)
			c.Reconnect()
		}()
	}
}

// currentCard polls the reader for whatever card is on it right now.
// Returns (nil, nil) when the reader is empty.
func (c *Controller) currentCard(ctx context.Context) (*iccard.DetectedCard, error) {
	c.transportMu.Lock()
	defer c.transportMu.Unlock()
	return c.currentCardLocked(ctx)
}

// currentCardLocked is currentCard with transportMu already held, for use
// inside the explicit read operations.
func (c *Controller) currentCardLocked(ctx context.Context) (*iccard.DetectedCard, error) {
	if err := c.ensureConnectedLocked(); err != nil {
		if errors.Is(err, iccard.ErrNoCard) {
			return nil, nil
		}
		return nil, err
	}

	resp, err := c.transport.Transmit(ctx, iccard.BuildPollingCommand(c.config.SystemCode), iccard.MaxResponseSize)
	if err != nil {
		// The card may have left mid-exchange; drop the session so the
		// next cycle reconnects cleanly.
		_ = c.transport.Disconnect()
		if errors.Is(err, iccard.ErrNoCard) {
			return nil, nil
		}
		return nil, fmt.Errorf("polling command: %w", err)
	}

	card, err := iccard.ParsePollingResponse(resp)
	if err != nil {
		iccard.Debugf("malformed polling response: %v", err)
		return nil, nil
	}
	card.DetectedAt = time.Now()
	return card, nil
}

// ensureConnectedLocked opens the card session if none is open. Caller
// holds transportMu.
func (c *Controller) ensureConnectedLocked() error {
	if c.transport.IsConnected() {
		return nil
	}
	c.stateMu.RLock()
	reader := c.readerName
	c.stateMu.RUnlock()
	if err := c.transport.Connect(reader, iccard.ShareShared, iccard.ProtocolAny); err != nil {
		return fmt.Errorf("connect %q: %w", reader, err)
	}
	return nil
}

// readBlockLocked transmits a single-block read with retry and validates
// the response. A refused or malformed response returns (nil, nil): the
// card says there is no such data, which terminates sequential reads
// without being an error. Caller holds transportMu.
func (c *Controller) readBlockLocked(
	ctx context.Context, idm iccard.IDm, serviceCode uint16, block uint8,
) ([]byte, error) {
	cmd := iccard.BuildReadCommand(idm, serviceCode, block)

	var resp []byte
	err := iccard.RetryWithConfig(ctx, c.config.Retry, func() error {
		var terr error
		resp, terr = c.transport.Transmit(ctx, cmd, iccard.MaxResponseSize)
		return terr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: service %04X block %d: %w", iccard.ErrTransmissionFailed, serviceCode, block, err)
	}

	data, err := iccard.ParseReadResponse(resp)
	if err != nil {
		var statusErr *iccard.CardStatusError
		if errors.As(err, &statusErr) || errors.Is(err, iccard.ErrInvalidResponse) {
			iccard.Debugf("service %04X block %d: %v", serviceCode, block, err)
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// requestServiceLocked probes the card for service availability. Caller
// holds transportMu.
func (c *Controller) requestServiceLocked(
	ctx context.Context, idm iccard.IDm, services []uint16,
) ([]uint16, error) {
	cmd, err := iccard.BuildRequestServiceCommand(idm, services)
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Transmit(ctx, cmd, iccard.MaxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("request service: %w", err)
	}
	return iccard.ParseRequestServiceResponse(resp, len(services))
}

// setConnectionState transitions the observable connectivity state. The
// last-known state gates emission: consecutive identical states never
// re-emit the event.
func (c *Controller) setConnectionState(state ConnectionState, message string, retryCount int) {
	c.stateMu.Lock()
	if c.connState == state {
		c.stateMu.Unlock()
		return
	}
	c.connState = state
	cb := c.onConnectionState
	c.stateMu.Unlock()

	c.log.WithFields(logrus.Fields{"state": state.String(), "retry": retryCount}).Info(message)

	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Error("connection-state callback panicked")
		}
	}()
	cb(ConnectionStateEvent{State: state, Message: message, RetryCount: retryCount})
}
