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

package session

import (
	"time"

	"github.com/sirupsen/logrus"

	iccard "github.com/kuwayamamasayuki/ICCardManager-sub005"
	"github.com/kuwayamamasayuki/ICCardManager-sub005/history"
)

// Config holds session controller options.
type Config struct {
	// Logger receives structured diagnostics. Defaults to the logrus
	// standard logger.
	Logger *logrus.Logger

	// Resolver maps station codes to display names. May be nil; all
	// stations then get the numeric fallback label.
	Resolver history.StationResolver

	// Retry configures per-command retry for the explicit read
	// operations. The detection poll never retries; the next tick is the
	// retry.
	Retry *iccard.RetryConfig

	// ReaderName selects a specific reader. Empty picks the first one
	// enumerated.
	ReaderName string

	// PollInterval is the detection poll period. Sub-second, so a card
	// touch is never missed at a lending desk.
	PollInterval time.Duration

	// HealthCheckInterval is the connectivity probe period.
	HealthCheckInterval time.Duration

	// DuplicateWindow suppresses re-detections of the same card within
	// this interval.
	DuplicateWindow time.Duration

	// MaxHistoryBlocks caps a history read. The card's log is circular
	// and never yields more than this many records anyway.
	MaxHistoryBlocks int

	// SystemCode is used for detection polling. The wildcard finds any
	// FeliCa card so non-transit cards can still be rejected with a
	// useful identity.
	SystemCode uint16

	// Area is the station-lookup hint passed through to the resolver,
	// derived from the card type the desk issues, or AreaUnknown.
	Area history.Area

	// UseHardwareEvents switches the detection loop from timed polling to
	// the transport's card monitor when the transport supports one.
	UseHardwareEvents bool
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:        300 * time.Millisecond,
		HealthCheckInterval: 5 * time.Second,
		DuplicateWindow:     3 * time.Second,
		MaxHistoryBlocks:    iccard.MaxHistoryBlocks,
		SystemCode:          iccard.SystemCodeWildcard,
		Area:                history.AreaUnknown,
		Retry:               iccard.DefaultRetryConfig(),
	}
}

// withDefaults fills zero values so a partially populated Config behaves.
func (cfg *Config) withDefaults() *Config {
	def := DefaultConfig()
	if cfg == nil {
		return def
	}
	out := *cfg
	if out.PollInterval <= 0 {
		out.PollInterval = def.PollInterval
	}
	if out.HealthCheckInterval <= 0 {
		out.HealthCheckInterval = def.HealthCheckInterval
	}
	if out.DuplicateWindow <= 0 {
		out.DuplicateWindow = def.DuplicateWindow
	}
	if out.MaxHistoryBlocks <= 0 || out.MaxHistoryBlocks > iccard.MaxHistoryBlocks {
		out.MaxHistoryBlocks = def.MaxHistoryBlocks
	}
	if out.SystemCode == 0 {
		out.SystemCode = def.SystemCode
	}
	if out.Retry == nil {
		out.Retry = def.Retry
	}
	return &out
}
