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

// Package iccard implements the contactless-reader protocol surface for
// FeliCa transit IC cards: the Transport capability interface over the
// native smart-card driver, FeliCa command frame construction, response
// status validation, and the error taxonomy shared by the higher layers.
//
// The package is intentionally free of session state. Continuous card
// monitoring, duplicate suppression and the health-check state machine
// live in the session package; decoding of the card's 16-byte history
// blocks lives in the history package.
//
// Basic usage with a real PC/SC reader:
//
//	transport, err := pcsc.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer transport.Close()
//
//	ctrl := session.NewController(transport, nil)
//	ctrl.SetOnCardDetected(func(ev session.CardDetectedEvent) {
//		fmt.Println("card:", ev.IDm)
//	})
//	if err := ctrl.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer ctrl.Stop()
package iccard
