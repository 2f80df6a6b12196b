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
	"os"
)

// debugEnabled controls whether protocol frame tracing is active
var debugEnabled = false

func init() {
	if os.Getenv("ICCARD_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
}

// Debugf prints protocol-level debug information when debug mode is enabled.
// Higher layers use structured logging; this exists for raw frame tracing
// against misbehaving readers.
func Debugf(format string, args ...any) {
	if debugEnabled {
		_, _ = fmt.Fprintf(os.Stderr, "DEBUG: %s\n", fmt.Sprintf(format, args...))
	}
}

// SetDebugEnabled allows programmatic control of debug tracing
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}
