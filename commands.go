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
	"fmt"
)

// FeliCa command constants based on JIS X 6319-4 specification
const (
	cmdPolling               = 0x00
	cmdRequestService        = 0x02
	cmdReadWithoutEncryption = 0x06

	respPolling               = 0x01
	respRequestService        = 0x03
	respReadWithoutEncryption = 0x07
)

// System codes
const (
	// SystemCodeTransit is the cybernetics-standard system code shared by
	// transit IC cards (Suica, nimoca, hayakaken and relatives).
	SystemCodeTransit = 0x0003
	// SystemCodeWildcard polls for any card regardless of system.
	SystemCodeWildcard = 0xFFFF
)

// Service codes within the transit system. Both carry the "read without
// encryption" access attribute, which is why this core needs no mutual
// authentication with the card.
const (
	// ServiceCodeHistory is the circular transaction log, 16-byte blocks.
	ServiceCodeHistory = 0x090F
	// ServiceCodeBalance is the attribute service whose first block carries
	// the current stored-fare balance.
	ServiceCodeBalance = 0x008B
)

// Frame geometry
const (
	// BlockSize is the fixed FeliCa block length in bytes.
	BlockSize = 16
	// MaxHistoryBlocks caps the retrievable transaction log. The card's
	// log is circular; entries beyond this are gone.
	MaxHistoryBlocks = 20
	// MaxResponseSize is a safe upper bound for single-block responses,
	// passed to Transmit as the expected maximum.
	MaxResponseSize = 64
)

// BuildPollingCommand builds a FeliCa Polling frame for the given system
// code. Request code 0x01 asks the card to echo its system code; time slot
// 0x00 keeps the exchange to a single slot, which is all a lending desk
// with one card on the reader ever needs.
func BuildPollingCommand(systemCode uint16) []byte {
	return []byte{
		cmdPolling,
		byte(systemCode >> 8), byte(systemCode), // System code (big endian)
		0x01, // Request code: system code request
		0x00, // Time slot
	}
}

// ParsePollingResponse parses a FeliCa Polling response into a DetectedCard.
// Response layout: code(1) + IDm(8) + PMm(8) [+ system code(2)].
func ParsePollingResponse(resp []byte) (*DetectedCard, error) {
	if len(resp) < 17 {
		return nil, fmt.Errorf("%w: polling response %d bytes, need at least 17", ErrInvalidResponse, len(resp))
	}
	if resp[0] != respPolling {
		return nil, fmt.Errorf("%w: unexpected polling response code 0x%02X", ErrInvalidResponse, resp[0])
	}

	card := &DetectedCard{}
	copy(card.IDm[:], resp[1:9])
	copy(card.PMm[:], resp[9:17])

	card.SystemCode = SystemCodeWildcard
	if len(resp) >= 19 {
		card.SystemCode = uint16(resp[17])<<8 | uint16(resp[18])
	}

	return card, nil
}

// BuildReadCommand builds a Read Without Encryption frame for one block of
// one service. Layout: command code, 8-byte IDm, service count, 2-byte
// little-endian service code, block count, 2-byte block list element.
func BuildReadCommand(idm IDm, serviceCode uint16, block uint8) []byte {
	cmd := make([]byte, 0, 15)
	cmd = append(cmd, cmdReadWithoutEncryption)
	cmd = append(cmd, idm[:]...)
	cmd = append(cmd, 0x01, // Service count (1 service)
		byte(serviceCode), byte(serviceCode>>8), // Service code (little endian)
		0x01,        // Block count (1 block)
		0x80, block) // Block list element (2-byte format)
	return cmd
}

// ParseReadResponse validates a Read Without Encryption response and returns
// the 16-byte block payload. Layout: code(1) + IDm(8) + status1 + status2 +
// data. The payload is trusted only when both status flags are zero; any
// other combination is reported as a CardStatusError so callers can treat
// it as "no data" rather than a parse failure.
func ParseReadResponse(resp []byte) ([]byte, error) {
	if len(resp) < 11 {
		return nil, fmt.Errorf("%w: read response %d bytes, need at least 11", ErrInvalidResponse, len(resp))
	}
	if resp[0] != respReadWithoutEncryption {
		return nil, fmt.Errorf("%w: unexpected read response code 0x%02X", ErrInvalidResponse, resp[0])
	}

	status1, status2 := resp[9], resp[10]
	if status1 != 0x00 || status2 != 0x00 {
		return nil, &CardStatusError{Command: "read without encryption", Status1: status1, Status2: status2}
	}

	if len(resp) < 11+BlockSize {
		return nil, fmt.Errorf("%w: read response missing block data", ErrInvalidResponse)
	}

	block := make([]byte, BlockSize)
	copy(block, resp[11:11+BlockSize])
	return block, nil
}

// BuildRequestServiceCommand builds a Request Service frame used to probe
// whether the card exposes the given service codes.
func BuildRequestServiceCommand(idm IDm, serviceCodes []uint16) ([]byte, error) {
	if len(serviceCodes) == 0 || len(serviceCodes) > 32 {
		return nil, fmt.Errorf("%w: service code count %d (must be 1-32)", ErrInvalidFrame, len(serviceCodes))
	}

	cmd := make([]byte, 0, 10+len(serviceCodes)*2)
	cmd = append(cmd, cmdRequestService)
	cmd = append(cmd, idm[:]...)
	cmd = append(cmd, byte(len(serviceCodes)))
	for _, sc := range serviceCodes {
		cmd = append(cmd, byte(sc), byte(sc>>8)) // little endian
	}
	return cmd, nil
}

// ParseRequestServiceResponse returns the per-service key versions from a
// Request Service response. A key version of 0xFFFF means the service does
// not exist on the card.
func ParseRequestServiceResponse(resp []byte, serviceCount int) ([]uint16, error) {
	expected := 10 + serviceCount*2
	if len(resp) < expected {
		return nil, fmt.Errorf("%w: request service response %d bytes, need %d", ErrInvalidResponse, len(resp), expected)
	}
	if resp[0] != respRequestService {
		return nil, fmt.Errorf("%w: unexpected request service response code 0x%02X", ErrInvalidResponse, resp[0])
	}
	if int(resp[9]) != serviceCount {
		return nil, fmt.Errorf("%w: service count mismatch, asked %d got %d", ErrInvalidResponse, serviceCount, resp[9])
	}

	versions := make([]uint16, serviceCount)
	for i := range versions {
		versions[i] = uint16(resp[10+i*2]) | uint16(resp[11+i*2])<<8
	}
	return versions, nil
}

// ServiceAbsent reports whether a Request Service key version marks the
// service as missing from the card.
func ServiceAbsent(keyVersion uint16) bool {
	return keyVersion == 0xFFFF
}
