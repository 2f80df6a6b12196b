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

// Package pcsc implements the reader transport over the native PC/SC
// smart-card stack (winscard on Windows, pcsclite elsewhere) via
// github.com/ebfe/scard.
//
// FeliCa command frames are encapsulated for the reader with a one-byte
// length prefix inside the vendor pass-through APDU CLA=FF INS=FE, the
// scheme PaSoRi-class readers expose for raw FeliCa exchange. Responses
// are unwrapped symmetrically after checking SW1/SW2.
package pcsc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ebfe/scard"

	iccard "github.com/kuwayamamasayuki/ICCardManager-sub005"
)

// Transport is a PC/SC-backed iccard.Transport. Establishing it acquires
// an exclusive OS-level driver context, so the lifetime is scoped: one New
// at controller start, exactly one Close at stop, even on error unwind.
type Transport struct {
	ctx    *scard.Context
	card   *scard.Card
	reader string
	mu     sync.Mutex
	closed bool
}

// New establishes the PC/SC context. Fails with iccard.ErrDriverMissing
// when the smart-card service or native library is not present, which the
// session controller's availability check treats as a real fault rather
// than "no card".
func New() (*Transport, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", iccard.ErrDriverMissing, err)
	}
	return &Transport{ctx: ctx}, nil
}

// ListReaders implements iccard.Transport. No attached readers is an empty
// list, not an error.
func (t *Transport) ListReaders() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, iccard.ErrTransportClosed
	}

	readers, err := t.ctx.ListReaders()
	if err != nil {
		if errors.Is(err, scard.ErrNoReadersAvailable) {
			return nil, nil
		}
		if errors.Is(err, scard.ErrNoService) {
			return nil, fmt.Errorf("%w: %v", iccard.ErrDriverMissing, err)
		}
		return nil, fmt.Errorf("listing readers: %w", err)
	}
	return readers, nil
}

// Connect implements iccard.Transport. In shared mode PC/SC only connects
// while a card is in the field, so iccard.ErrNoCard here is the ordinary
// "reader is empty" answer, not a fault.
func (t *Transport) Connect(reader string, mode iccard.ShareMode, proto iccard.Protocol) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return iccard.ErrTransportClosed
	}
	if t.card != nil {
		// One session at a time; drop the stale handle first.
		_ = t.card.Disconnect(scard.LeaveCard)
		t.card = nil
	}

	card, err := t.ctx.Connect(reader, scardShareMode(mode), scardProtocol(proto))
	if err != nil {
		switch {
		case errors.Is(err, scard.ErrNoSmartcard), errors.Is(err, scard.ErrRemovedCard):
			return iccard.ErrNoCard
		case errors.Is(err, scard.ErrUnknownReader), errors.Is(err, scard.ErrReaderUnavailable):
			return fmt.Errorf("%w: %v", iccard.ErrReaderUnavailable, err)
		default:
			return &iccard.TransportError{
				Op:     "Connect",
				Reader: reader,
				Err:    err,
				Type:   iccard.GetErrorType(err),
			}
		}
	}

	t.card = card
	t.reader = reader
	return nil
}

// Transmit implements iccard.Transport. The raw FeliCa frame is wrapped in
// the pass-through APDU, sent, and unwrapped. PC/SC has no native
// cancellation, so the context is only honored between calls; a hung
// native transmit blocks until the driver gives up.
func (t *Transport) Transmit(ctx context.Context, cmd []byte, maxResp int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, iccard.ErrTransportClosed
	}
	if t.card == nil {
		return nil, iccard.ErrNoCard
	}

	apdu, err := wrapFrame(cmd, maxResp)
	if err != nil {
		return nil, err
	}

	iccard.Debugf("pcsc > % X", apdu)
	resp, err := t.card.Transmit(apdu)
	if err != nil {
		if errors.Is(err, scard.ErrRemovedCard) || errors.Is(err, scard.ErrNoSmartcard) {
			return nil, iccard.ErrNoCard
		}
		return nil, &iccard.TransportError{
			Op:        "Transmit",
			Reader:    t.reader,
			Err:       err,
			Type:      iccard.GetErrorType(err),
			Retryable: true,
		}
	}
	iccard.Debugf("pcsc < % X", resp)

	return unwrapFrame(resp)
}

// Disconnect implements iccard.Transport, ending the card session while
// keeping the driver context.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.card == nil {
		return nil
	}
	err := t.card.Disconnect(scard.LeaveCard)
	t.card = nil
	if err != nil {
		return fmt.Errorf("disconnecting card: %w", err)
	}
	return nil
}

// Close implements iccard.Transport, releasing the driver context exactly
// once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	if t.card != nil {
		_ = t.card.Disconnect(scard.LeaveCard)
		t.card = nil
	}
	if err := t.ctx.Release(); err != nil {
		return fmt.Errorf("releasing PC/SC context: %w", err)
	}
	return nil
}

// IsConnected implements iccard.Transport
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.card != nil && !t.closed
}

// Type implements iccard.Transport
func (*Transport) Type() iccard.TransportType {
	return iccard.TransportPCSC
}

// wrapFrame encapsulates a FeliCa frame in the pass-through APDU. The
// FeliCa packet is length-prefixed (length byte included in the count).
func wrapFrame(cmd []byte, maxResp int) ([]byte, error) {
	if len(cmd) == 0 || len(cmd) > 254 {
		return nil, fmt.Errorf("%w: frame length %d", iccard.ErrInvalidFrame, len(cmd))
	}
	if maxResp <= 0 || maxResp > 255 {
		maxResp = iccard.MaxResponseSize
	}

	apdu := make([]byte, 0, 6+len(cmd))
	apdu = append(apdu, 0xFF, 0xFE, 0x00, 0x00, byte(len(cmd)+1), byte(len(cmd)+1))
	apdu = append(apdu, cmd...)
	apdu = append(apdu, byte(maxResp))
	return apdu, nil
}

// unwrapFrame strips SW1/SW2 and the FeliCa length prefix. Non-9000
// status words mean the reader refused the exchange; that is a transport
// failure, distinct from the card-level status flags the protocol layer
// checks.
func unwrapFrame(resp []byte) ([]byte, error) {
	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: response %d bytes", iccard.ErrInvalidResponse, len(resp))
	}
	sw1, sw2 := resp[len(resp)-2], resp[len(resp)-1]
	if sw1 != 0x90 || sw2 != 0x00 {
		return nil, fmt.Errorf("%w: reader status %02X%02X", iccard.ErrTransmissionFailed, sw1, sw2)
	}

	payload := resp[:len(resp)-2]
	if len(payload) == 0 {
		return nil, iccard.ErrNoCard
	}
	// Strip the length prefix; it counts itself.
	if int(payload[0]) != len(payload) {
		return nil, fmt.Errorf("%w: length prefix %d for %d bytes", iccard.ErrInvalidResponse, payload[0], len(payload))
	}
	out := make([]byte, len(payload)-1)
	copy(out, payload[1:])
	return out, nil
}

func scardShareMode(mode iccard.ShareMode) scard.ShareMode {
	switch mode {
	case iccard.ShareExclusive:
		return scard.ShareExclusive
	case iccard.ShareDirect:
		return scard.ShareDirect
	default:
		return scard.ShareShared
	}
}

func scardProtocol(proto iccard.Protocol) scard.Protocol {
	switch proto {
	case iccard.ProtocolT0:
		return scard.ProtocolT0
	case iccard.ProtocolT1:
		return scard.ProtocolT1
	default:
		return scard.ProtocolAny
	}
}
