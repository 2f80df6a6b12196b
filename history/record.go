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

// Package history decodes the proprietary 16-byte transaction records of
// transit IC cards and assembles them into ledger entries. Everything in
// this package is pure: no I/O, no reader state, no mutation of inputs.
package history

import (
	"encoding/binary"
	"time"
)

// BlockSize is the fixed length of one raw history record in bytes.
const BlockSize = 16

// UsageCharge is the usage-type byte value designating a balance top-up.
// Every other usage type is card-present usage: rail when a station code is
// recorded, bus when both station codes are zero.
const UsageCharge = 0x02

// Record is one decoded transaction from the card's circular log.
//
// Raw block layout (offsets in bytes, 16-bit fields big endian unless
// noted):
//
//	0     device type (kept for diagnostics only)
//	1     usage type; 0x02 = charge
//	2-3   processing detail (diagnostics only)
//	4-5   date bit-field: bits 15-9 year since 2000, 8-5 month, 4-0 day
//	6-7   entry station code; 0 = not applicable
//	8-9   exit station code; 0 = not applicable
//	10-11 residual balance, little endian
//	12-15 reserved
type Record struct {
	// Date is the transaction calendar date. Zero when the date bit-field
	// does not name a valid month/day; an out-of-range date is "no date",
	// never a decode error.
	Date         time.Time
	EntryStation uint16
	ExitStation  uint16
	Balance      uint16
	DeviceType   byte
	UsageType    byte
	// Raw retains the full block for diagnostics.
	Raw [BlockSize]byte
}

// Decode decodes a raw history block. Returns nil when the block is nil or
// shorter than BlockSize; it never panics on malformed input.
func Decode(block []byte) *Record {
	if len(block) < BlockSize {
		return nil
	}

	r := &Record{
		DeviceType:   block[0],
		UsageType:    block[1],
		Date:         decodeDate(binary.BigEndian.Uint16(block[4:6])),
		EntryStation: binary.BigEndian.Uint16(block[6:8]),
		ExitStation:  binary.BigEndian.Uint16(block[8:10]),
		Balance:      binary.LittleEndian.Uint16(block[10:12]),
	}
	copy(r.Raw[:], block[:BlockSize])
	return r
}

// Encode is the exact inverse of Decode for every interpreted field, used
// to build test fixtures: Decode(Encode(r)) reproduces the usage type,
// date, station codes and balance. Reserved bytes are left zero.
func Encode(r *Record) [BlockSize]byte {
	var block [BlockSize]byte
	block[0] = r.DeviceType
	block[1] = r.UsageType
	binary.BigEndian.PutUint16(block[4:6], encodeDate(r.Date))
	binary.BigEndian.PutUint16(block[6:8], r.EntryStation)
	binary.BigEndian.PutUint16(block[8:10], r.ExitStation)
	binary.LittleEndian.PutUint16(block[10:12], r.Balance)
	return block
}

// IsCharge reports whether the record is a balance top-up.
func (r *Record) IsCharge() bool {
	return r.UsageType == UsageCharge
}

// IsBus reports whether the record is a bus usage: not a charge, and
// neither station code recorded. This is the single classification point;
// the assembler and any display logic must go through it rather than
// restate the rule.
func (r *Record) IsBus() bool {
	return !r.IsCharge() && r.EntryStation == 0 && r.ExitStation == 0
}

// HasDate reports whether the record carries a valid calendar date.
func (r *Record) HasDate() bool {
	return !r.Date.IsZero()
}

// IsEmptyBlock reports whether a raw block is entirely zero bytes. An
// all-zero block marks the end of the card's retrievable log.
func IsEmptyBlock(block []byte) bool {
	if len(block) == 0 {
		return true
	}
	for _, b := range block {
		if b != 0 {
			return false
		}
	}
	return true
}

// decodeDate unpacks the date bit-field. Years count from 2000; month and
// day outside the calendar range yield the zero time.
func decodeDate(v uint16) time.Time {
	year := int(v>>9) + 2000
	month := int(v>>5) & 0x0F
	day := int(v) & 0x1F

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)
}

// encodeDate packs a date back into the bit-field. The zero time encodes
// as zero bits, which Decode reads back as "no date".
func encodeDate(t time.Time) uint16 {
	if t.IsZero() {
		return 0
	}
	y := t.Year() - 2000
	if y < 0 {
		y = 0
	}
	return uint16(y)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
}
