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

package history

import (
	"fmt"
	"time"
)

// Area is a hint for station-code resolution. The same numeric station
// code can exist in more than one operator's table; the hint tells the
// external lookup which region's table to favor. Which region wins for an
// unrecognized card type is a business decision owned by the lookup, not
// by this package.
type Area uint8

const (
	// AreaUnknown leaves the tie-break entirely to the lookup.
	AreaUnknown Area = iota
	// AreaEast favors the eastern/common code table.
	AreaEast
	// AreaWest favors the Kansai private-rail code table.
	AreaWest
	// AreaKyushu favors the Kyushu private-rail code table.
	AreaKyushu
)

// StationResolver resolves a station code to a display name. It is
// consumed as a pure, total function: implementations always return
// something and never fail. An empty return means "unresolved" and
// degrades to a numeric placeholder label; it is never an error.
type StationResolver func(code uint16, area Area) string

// LedgerDetail is one assembled ledger entry, ready for the persistence
// layer. Station names are resolved display strings, or empty when the
// record carries no station code.
type LedgerDetail struct {
	Date             time.Time
	EntryStationName string
	ExitStationName  string
	// Amount is the signed transaction amount derived from the balance
	// delta to the chronologically previous record. Valid only when
	// HasAmount is true; the oldest retrievable record has no older
	// reference and therefore no amount.
	Amount    int
	Balance   uint16
	HasAmount bool
	IsCharge  bool
	IsBus     bool
}

// Assemble turns a decoded record sequence into ledger entries of the same
// length and order. Records must be ordered newest-first, exactly as the
// card returns them: index i is strictly more recent than index i+1.
//
// The amount of record i is computed against record i+1 (the next older
// one): a charge gained balance[i]-balance[i+1], any other usage spent
// balance[i+1]-balance[i]. The input is never mutated.
func Assemble(records []*Record, resolve StationResolver, area Area) []LedgerDetail {
	details := make([]LedgerDetail, 0, len(records))

	for i, r := range records {
		d := LedgerDetail{
			Date:     r.Date,
			Balance:  r.Balance,
			IsCharge: r.IsCharge(),
			IsBus:    r.IsBus(),
		}

		if i+1 < len(records) {
			older := records[i+1]
			if d.IsCharge {
				d.Amount = int(r.Balance) - int(older.Balance)
			} else {
				d.Amount = int(older.Balance) - int(r.Balance)
			}
			d.HasAmount = true
		}

		if r.EntryStation != 0 {
			d.EntryStationName = resolveStation(resolve, r.EntryStation, area)
		}
		if r.ExitStation != 0 {
			d.ExitStationName = resolveStation(resolve, r.ExitStation, area)
		}

		details = append(details, d)
	}

	return details
}

// resolveStation applies the external lookup and degrades to a readable
// placeholder when the code has no table entry.
func resolveStation(resolve StationResolver, code uint16, area Area) string {
	if resolve != nil {
		if name := resolve(code, area); name != "" {
			return name
		}
	}
	return FallbackStationName(code)
}

// FallbackStationName formats the placeholder label shown when a station
// code cannot be resolved to a name.
func FallbackStationName(code uint16) string {
	return fmt.Sprintf("駅%04X", code)
}
