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
)

// Error categories for retry and recovery logic
var (
	// Reader/driver errors - not retryable, polling should stop
	ErrReaderUnavailable = errors.New("no contactless reader available")
	ErrDriverMissing     = errors.New("smart-card driver not present")
	ErrTransportClosed   = errors.New("transport is closed")

	// Command errors - potentially retryable
	ErrTransmissionFailed = errors.New("command transmission failed")
	ErrNoCard             = errors.New("no card on reader")
	ErrCardStatus         = errors.New("card returned non-zero status flags")

	// Data errors - not retryable
	ErrInvalidResponse = errors.New("invalid response format")
	ErrInvalidFrame    = errors.New("invalid command frame")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Reader    string    // Reader name, when known
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Reader != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Reader, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CardStatusError reports the two FeliCa status flags returned by the card
// when a command is refused. Per JIS X 6319-4 both flags must be 0x00 for
// the payload to be trusted; any other combination means the response
// carries no usable data, not that the frame failed to parse.
type CardStatusError struct {
	Command string
	Status1 byte
	Status2 byte
}

func (e *CardStatusError) Error() string {
	return fmt.Sprintf("%s refused with status 0x%02X%02X", e.Command, e.Status1, e.Status2)
}

func (*CardStatusError) Unwrap() error {
	return ErrCardStatus
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	// A refused card command may succeed on the next touch; a missing card
	// will not, and retrying it only delays the polling loop.
	switch {
	case errors.Is(err, ErrTransmissionFailed),
		errors.Is(err, ErrCardStatus):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the reader/driver is gone and
// polling should stop entirely. This is distinct from IsRetryable which
// indicates whether a single operation can be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	switch {
	case errors.Is(err, ErrReaderUnavailable),
		errors.Is(err, ErrDriverMissing),
		errors.Is(err, ErrTransportClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// GetErrorType determines the error category for an error
func GetErrorType(err error) ErrorType {
	switch {
	case err == nil:
		return ErrorTypeTransient
	case IsFatal(err):
		return ErrorTypePermanent
	default:
		return ErrorTypeTransient
	}
}
