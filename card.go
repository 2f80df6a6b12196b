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
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// IDmLength is the length of a FeliCa manufacture ID in bytes.
const IDmLength = 8

// IDm is the 8-byte unique manufacture ID a FeliCa card presents during
// polling. This core uses it purely as an opaque comparison key: captured
// once at detection, then re-checked before every read to confirm the same
// physical card is still on the reader.
type IDm [IDmLength]byte

// ParseIDm parses a 16-digit hex string into an IDm. Comparison of IDm
// values through Equal/EqualHex is case-insensitive, so the input casing
// does not matter.
func ParseIDm(s string) (IDm, error) {
	var idm IDm
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return idm, fmt.Errorf("invalid IDm %q: %w", s, err)
	}
	if len(b) != IDmLength {
		return idm, fmt.Errorf("invalid IDm %q: need %d bytes, got %d", s, IDmLength, len(b))
	}
	copy(idm[:], b)
	return idm, nil
}

// String returns the IDm as a 16-digit upper-case hex string.
func (i IDm) String() string {
	return strings.ToUpper(hex.EncodeToString(i[:]))
}

// IsZero reports whether the IDm is all zero bytes (never captured).
func (i IDm) IsZero() bool {
	return i == IDm{}
}

// Equal reports whether two identifiers name the same physical card.
func (i IDm) Equal(other IDm) bool {
	return i == other
}

// EqualHex compares the IDm against a hex string, ignoring case.
func (i IDm) EqualHex(s string) bool {
	return strings.EqualFold(hex.EncodeToString(i[:]), strings.TrimSpace(s))
}

// DetectedCard is a card seen on the reader during a polling cycle.
type DetectedCard struct {
	DetectedAt time.Time
	IDm        IDm
	PMm        [8]byte
	SystemCode uint16
}

// IsTransitCard reports whether the card answered with the transit system
// code. Cards polled with the wildcard system code may be something else
// entirely (an office badge, an e-money card), and those never carry the
// history service.
func (c *DetectedCard) IsTransitCard() bool {
	return c.SystemCode == SystemCodeTransit
}

// Summary returns a brief human-readable description of the card.
func (c *DetectedCard) Summary() string {
	return fmt.Sprintf("Card: IDm=%s, System=%04X", c.IDm, c.SystemCode)
}
