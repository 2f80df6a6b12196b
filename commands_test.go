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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIDm = IDm{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

func TestBuildPollingCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		systemCode uint16
		want       []byte
	}{
		{
			name:       "transit_system",
			systemCode: SystemCodeTransit,
			want:       []byte{0x00, 0x00, 0x03, 0x01, 0x00},
		},
		{
			name:       "wildcard",
			systemCode: SystemCodeWildcard,
			want:       []byte{0x00, 0xFF, 0xFF, 0x01, 0x00},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, BuildPollingCommand(tt.systemCode))
		})
	}
}

func TestParsePollingResponse(t *testing.T) {
	t.Parallel()

	pmm := []byte{0x03, 0x01, 0x4B, 0x02, 0x4F, 0x49, 0x93, 0xFF}

	full := append([]byte{respPolling}, testIDm[:]...)
	full = append(full, pmm...)
	full = append(full, 0x00, 0x03)

	noSystem := append([]byte{respPolling}, testIDm[:]...)
	noSystem = append(noSystem, pmm...)

	t.Run("with_system_code", func(t *testing.T) {
		t.Parallel()

		card, err := ParsePollingResponse(full)
		require.NoError(t, err)
		assert.Equal(t, testIDm, card.IDm)
		assert.Equal(t, pmm, card.PMm[:])
		assert.Equal(t, uint16(SystemCodeTransit), card.SystemCode)
		assert.True(t, card.IsTransitCard())
	})

	t.Run("without_system_code", func(t *testing.T) {
		t.Parallel()

		card, err := ParsePollingResponse(noSystem)
		require.NoError(t, err)
		assert.Equal(t, testIDm, card.IDm)
		assert.Equal(t, uint16(SystemCodeWildcard), card.SystemCode)
		assert.False(t, card.IsTransitCard())
	})

	t.Run("too_short", func(t *testing.T) {
		t.Parallel()

		_, err := ParsePollingResponse(noSystem[:16])
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})

	t.Run("wrong_response_code", func(t *testing.T) {
		t.Parallel()

		bad := append([]byte{}, full...)
		bad[0] = 0x07
		_, err := ParsePollingResponse(bad)
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})
}

func TestBuildReadCommand(t *testing.T) {
	t.Parallel()

	cmd := BuildReadCommand(testIDm, ServiceCodeHistory, 3)

	want := []byte{
		cmdReadWithoutEncryption,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x01,       // one service
		0x0F, 0x09, // 0x090F little endian
		0x01,       // one block
		0x80, 0x03, // two-byte block list element
	}
	assert.Equal(t, want, cmd)
}

func TestBuildReadCommandServiceCodeLittleEndian(t *testing.T) {
	t.Parallel()

	cmd := BuildReadCommand(testIDm, ServiceCodeBalance, 0)
	// 0x008B must go on the wire as 8B 00.
	assert.Equal(t, byte(0x8B), cmd[10])
	assert.Equal(t, byte(0x00), cmd[11])
}

func TestParseReadResponse(t *testing.T) {
	t.Parallel()

	block := make([]byte, BlockSize)
	for i := range block {
		block[i] = byte(i + 1)
	}

	buildResp := func(status1, status2 byte, data []byte) []byte {
		resp := append([]byte{respReadWithoutEncryption}, testIDm[:]...)
		resp = append(resp, status1, status2)
		return append(resp, data...)
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		got, err := ParseReadResponse(buildResp(0x00, 0x00, block))
		require.NoError(t, err)
		assert.Equal(t, block, got)
	})

	t.Run("status_flags_nonzero", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name     string
			status1  byte
			status2  byte
		}{
			{name: "status1_set", status1: 0xFF, status2: 0x00},
			{name: "status2_set", status1: 0x00, status2: 0xA6},
			{name: "both_set", status1: 0x01, status2: 0xA6},
		}

		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				_, err := ParseReadResponse(buildResp(tt.status1, tt.status2, block))
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrCardStatus)

				var statusErr *CardStatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, tt.status1, statusErr.Status1)
				assert.Equal(t, tt.status2, statusErr.Status2)
			})
		}
	})

	t.Run("header_too_short", func(t *testing.T) {
		t.Parallel()

		_, err := ParseReadResponse([]byte{respReadWithoutEncryption, 0x01})
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})

	t.Run("missing_block_data", func(t *testing.T) {
		t.Parallel()

		_, err := ParseReadResponse(buildResp(0x00, 0x00, block[:10]))
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})

	t.Run("wrong_response_code", func(t *testing.T) {
		t.Parallel()

		resp := buildResp(0x00, 0x00, block)
		resp[0] = respPolling
		_, err := ParseReadResponse(resp)
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})
}

func TestRequestServiceRoundTrip(t *testing.T) {
	t.Parallel()

	cmd, err := BuildRequestServiceCommand(testIDm, []uint16{ServiceCodeHistory, ServiceCodeBalance})
	require.NoError(t, err)

	want := []byte{
		cmdRequestService,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x02,
		0x0F, 0x09,
		0x8B, 0x00,
	}
	assert.Equal(t, want, cmd)

	resp := append([]byte{respRequestService}, testIDm[:]...)
	resp = append(resp, 0x02,
		0x01, 0x00, // key version 0x0001
		0xFF, 0xFF) // absent

	versions, err := ParseRequestServiceResponse(resp, 2)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.False(t, ServiceAbsent(versions[0]))
	assert.True(t, ServiceAbsent(versions[1]))
}

func TestBuildRequestServiceCommandLimits(t *testing.T) {
	t.Parallel()

	_, err := BuildRequestServiceCommand(testIDm, nil)
	assert.ErrorIs(t, err, ErrInvalidFrame)

	_, err = BuildRequestServiceCommand(testIDm, make([]uint16, 33))
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestParseRequestServiceResponseMismatch(t *testing.T) {
	t.Parallel()

	resp := append([]byte{respRequestService}, testIDm[:]...)
	resp = append(resp, 0x01, 0x01, 0x00)

	_, err := ParseRequestServiceResponse(resp, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidResponse))
}
