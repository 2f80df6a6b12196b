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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namedResolver(names map[uint16]string) StationResolver {
	return func(code uint16, _ Area) string {
		return names[code]
	}
}

func TestAssembleEmptyAndSingle(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Assemble(nil, nil, AreaUnknown))

	// A single record has no older neighbor, so no amount.
	details := Assemble([]*Record{{UsageType: 0x01, Balance: 500}}, nil, AreaUnknown)
	require.Len(t, details, 1)
	assert.False(t, details[0].HasAmount)
	assert.Equal(t, uint16(500), details[0].Balance)
}

func TestAssembleAmountDirection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		newer      Record
		older      Record
		wantAmount int
	}{
		{
			name:       "charge_gains_delta",
			newer:      Record{UsageType: UsageCharge, Balance: 1500},
			older:      Record{UsageType: 0x01, Balance: 1300},
			wantAmount: 200,
		},
		{
			name:       "rail_spends_delta",
			newer:      Record{UsageType: 0x01, EntryStation: 1, ExitStation: 2, Balance: 1300},
			older:      Record{UsageType: 0x01, Balance: 1500},
			wantAmount: 200,
		},
		{
			name:       "bus_spends_delta",
			newer:      Record{UsageType: 0x0D, Balance: 810},
			older:      Record{UsageType: 0x01, Balance: 1000},
			wantAmount: 190,
		},
		{
			name:       "refund_shows_negative_spend",
			newer:      Record{UsageType: 0x01, Balance: 1100},
			older:      Record{UsageType: 0x01, Balance: 1000},
			wantAmount: -100,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			details := Assemble([]*Record{&tt.newer, &tt.older}, nil, AreaUnknown)
			require.Len(t, details, 2)

			assert.True(t, details[0].HasAmount)
			assert.Equal(t, tt.wantAmount, details[0].Amount)
			// The oldest record never has an amount.
			assert.False(t, details[1].HasAmount)
		})
	}
}

func TestAssembleChargeThenRide(t *testing.T) {
	t.Parallel()

	mar15 := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.Local)
	mar10 := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.Local)

	records := []*Record{
		{UsageType: UsageCharge, Date: mar15, Balance: 1500},
		{UsageType: 0x01, Date: mar10, EntryStation: 0x0101, ExitStation: 0x0202, Balance: 1300},
	}
	resolve := namedResolver(map[uint16]string{
		0x0101: "博多",
		0x0202: "天神",
	})

	details := Assemble(records, resolve, AreaKyushu)
	require.Len(t, details, 2)

	charge := details[0]
	assert.True(t, charge.IsCharge)
	assert.False(t, charge.IsBus)
	assert.Equal(t, mar15, charge.Date)
	assert.Equal(t, uint16(1500), charge.Balance)
	assert.True(t, charge.HasAmount)
	assert.Equal(t, 200, charge.Amount)
	assert.Empty(t, charge.EntryStationName)
	assert.Empty(t, charge.ExitStationName)

	ride := details[1]
	assert.False(t, ride.IsCharge)
	assert.False(t, ride.IsBus)
	assert.Equal(t, mar10, ride.Date)
	assert.Equal(t, uint16(1300), ride.Balance)
	assert.False(t, ride.HasAmount)
	assert.Equal(t, "博多", ride.EntryStationName)
	assert.Equal(t, "天神", ride.ExitStationName)
}

func TestAssembleStationFallback(t *testing.T) {
	t.Parallel()

	records := []*Record{
		{UsageType: 0x01, EntryStation: 0x0408, ExitStation: 0x1A03, Balance: 900},
	}

	tests := []struct {
		name      string
		resolve   StationResolver
		wantEntry string
		wantExit  string
	}{
		{
			name:      "nil_resolver",
			resolve:   nil,
			wantEntry: "駅0408",
			wantExit:  "駅1A03",
		},
		{
			name:      "empty_answers",
			resolve:   func(uint16, Area) string { return "" },
			wantEntry: "駅0408",
			wantExit:  "駅1A03",
		},
		{
			name:      "partial_table",
			resolve:   namedResolver(map[uint16]string{0x0408: "西鉄福岡"}),
			wantEntry: "西鉄福岡",
			wantExit:  "駅1A03",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			details := Assemble(records, tt.resolve, AreaUnknown)
			require.Len(t, details, 1)
			assert.Equal(t, tt.wantEntry, details[0].EntryStationName)
			assert.Equal(t, tt.wantExit, details[0].ExitStationName)
		})
	}
}

func TestAssemblePassesAreaHint(t *testing.T) {
	t.Parallel()

	var seen []Area
	resolve := func(_ uint16, area Area) string {
		seen = append(seen, area)
		return "x"
	}

	records := []*Record{{UsageType: 0x01, EntryStation: 1, ExitStation: 2, Balance: 100}}
	Assemble(records, resolve, AreaWest)

	require.Len(t, seen, 2)
	assert.Equal(t, AreaWest, seen[0])
	assert.Equal(t, AreaWest, seen[1])
}

func TestAssembleZeroStationNotResolved(t *testing.T) {
	t.Parallel()

	calls := 0
	resolve := func(uint16, Area) string {
		calls++
		return "should not appear"
	}

	// A bus record carries no station codes; the lookup must not run.
	records := []*Record{{UsageType: 0x0D, Balance: 620}}
	details := Assemble(records, resolve, AreaUnknown)

	require.Len(t, details, 1)
	assert.True(t, details[0].IsBus)
	assert.Zero(t, calls)
	assert.Empty(t, details[0].EntryStationName)
	assert.Empty(t, details[0].ExitStationName)
}

func TestAssembleDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	r := &Record{UsageType: 0x01, EntryStation: 0x0101, Balance: 777}
	before := *r

	Assemble([]*Record{r}, nil, AreaEast)
	assert.Equal(t, before, *r)
}
