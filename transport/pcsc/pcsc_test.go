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
	"testing"

	"github.com/ebfe/scard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iccard "github.com/kuwayamamasayuki/ICCardManager-sub005"
)

func TestWrapFrame(t *testing.T) {
	t.Parallel()

	cmd := []byte{0x00, 0xFF, 0xFF, 0x01, 0x00}
	apdu, err := wrapFrame(cmd, 32)
	require.NoError(t, err)

	// Pass-through header, then the length-prefixed FeliCa packet (the
	// prefix counts itself), then the expected response length.
	want := []byte{0xFF, 0xFE, 0x00, 0x00, 0x06, 0x06, 0x00, 0xFF, 0xFF, 0x01, 0x00, 0x20}
	assert.Equal(t, want, apdu)
}

func TestWrapFrameDefaultsResponseLength(t *testing.T) {
	t.Parallel()

	for _, maxResp := range []int{0, -1, 300} {
		apdu, err := wrapFrame([]byte{0x00}, maxResp)
		require.NoError(t, err)
		assert.Equal(t, byte(iccard.MaxResponseSize), apdu[len(apdu)-1])
	}
}

func TestWrapFrameRejectsBadLengths(t *testing.T) {
	t.Parallel()

	_, err := wrapFrame(nil, 32)
	assert.ErrorIs(t, err, iccard.ErrInvalidFrame)

	_, err = wrapFrame(make([]byte, 255), 32)
	assert.ErrorIs(t, err, iccard.ErrInvalidFrame)
}

func TestUnwrapFrame(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		// 3-byte packet (prefix included) + SW 9000.
		got, err := unwrapFrame([]byte{0x03, 0x01, 0x02, 0x90, 0x00})
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x02}, got)
	})

	t.Run("reader_refused", func(t *testing.T) {
		t.Parallel()

		_, err := unwrapFrame([]byte{0x63, 0x00})
		assert.ErrorIs(t, err, iccard.ErrTransmissionFailed)
	})

	t.Run("too_short", func(t *testing.T) {
		t.Parallel()

		_, err := unwrapFrame([]byte{0x90})
		assert.ErrorIs(t, err, iccard.ErrInvalidResponse)
	})

	t.Run("empty_payload_means_no_card", func(t *testing.T) {
		t.Parallel()

		_, err := unwrapFrame([]byte{0x90, 0x00})
		assert.ErrorIs(t, err, iccard.ErrNoCard)
	})

	t.Run("length_prefix_mismatch", func(t *testing.T) {
		t.Parallel()

		_, err := unwrapFrame([]byte{0x09, 0x01, 0x02, 0x90, 0x00})
		assert.ErrorIs(t, err, iccard.ErrInvalidResponse)
	})
}

func TestShareModeMapping(t *testing.T) {
	t.Parallel()

	assert.Equal(t, scard.ShareShared, scardShareMode(iccard.ShareShared))
	assert.Equal(t, scard.ShareExclusive, scardShareMode(iccard.ShareExclusive))
	assert.Equal(t, scard.ShareDirect, scardShareMode(iccard.ShareDirect))
}

func TestProtocolMapping(t *testing.T) {
	t.Parallel()

	assert.Equal(t, scard.ProtocolAny, scardProtocol(iccard.ProtocolAny))
	assert.Equal(t, scard.ProtocolT0, scardProtocol(iccard.ProtocolT0))
	assert.Equal(t, scard.ProtocolT1, scardProtocol(iccard.ProtocolT1))
}
