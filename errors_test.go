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
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "transmission_failed", err: ErrTransmissionFailed, want: true},
		{name: "wrapped_transmission_failed", err: fmt.Errorf("reader: %w", ErrTransmissionFailed), want: true},
		{name: "card_status", err: &CardStatusError{Command: "read", Status1: 0x01, Status2: 0xA6}, want: true},
		{name: "no_card", err: ErrNoCard, want: false},
		{name: "reader_unavailable", err: ErrReaderUnavailable, want: false},
		{name: "driver_missing", err: ErrDriverMissing, want: false},
		{name: "invalid_response", err: ErrInvalidResponse, want: false},
		{
			name: "transport_error_marked_retryable",
			err:  &TransportError{Op: "Transmit", Err: errors.New("glitch"), Retryable: true},
			want: true,
		},
		{
			name: "transport_error_not_retryable",
			err:  &TransportError{Op: "Connect", Err: errors.New("gone"), Retryable: false},
			want: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "reader_unavailable", err: ErrReaderUnavailable, want: true},
		{name: "driver_missing", err: ErrDriverMissing, want: true},
		{name: "transport_closed", err: ErrTransportClosed, want: true},
		{name: "wrapped_driver_missing", err: fmt.Errorf("pcsc: %w", ErrDriverMissing), want: true},
		{name: "eof", err: io.EOF, want: true},
		{name: "closed_pipe", err: io.ErrClosedPipe, want: true},
		{name: "no_card", err: ErrNoCard, want: false},
		{name: "transmission_failed", err: ErrTransmissionFailed, want: false},
		{
			name: "transport_error_permanent",
			err:  &TransportError{Op: "Connect", Err: errors.New("gone"), Type: ErrorTypePermanent},
			want: true,
		},
		{
			name: "transport_error_transient",
			err:  &TransportError{Op: "Transmit", Err: errors.New("glitch"), Type: ErrorTypeTransient},
			want: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestCardStatusErrorUnwrapsToSentinel(t *testing.T) {
	t.Parallel()

	err := &CardStatusError{Command: "read without encryption", Status1: 0x01, Status2: 0xA6}
	assert.ErrorIs(t, err, ErrCardStatus)
	assert.Equal(t, "read without encryption refused with status 0x01A6", err.Error())
}

func TestTransportErrorFormatting(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")

	withReader := &TransportError{Op: "Transmit", Reader: "Reader 0", Err: inner}
	assert.Equal(t, "Transmit Reader 0: boom", withReader.Error())
	assert.ErrorIs(t, withReader, inner)

	withoutReader := &TransportError{Op: "Connect", Err: inner}
	assert.Equal(t, "Connect: boom", withoutReader.Error())
}
