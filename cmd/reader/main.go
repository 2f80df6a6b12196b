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

// Command reader is a manual verification host for the card session core:
// it connects the PC/SC transport to a session controller, prints every
// card detection, and dumps the decoded history and balance of each card
// presented.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	iccard "github.com/kuwayamamasayuki/ICCardManager-sub005"
	"github.com/kuwayamamasayuki/ICCardManager-sub005/history"
	"github.com/kuwayamamasayuki/ICCardManager-sub005/session"
	"github.com/kuwayamamasayuki/ICCardManager-sub005/transport/pcsc"
)

var (
	flagReader    = flag.String("reader", "", "Reader name (first enumerated if empty)")
	flagPoll      = flag.Duration("poll", 300*time.Millisecond, "Detection poll interval")
	flagHealth    = flag.Duration("health", 5*time.Second, "Health check interval")
	flagMonitor   = flag.Bool("monitor", false, "Use hardware card events instead of polling")
	flagListOnly  = flag.Bool("list", false, "List readers and exit")
	flagDebug     = flag.Bool("debug", false, "Enable protocol frame tracing")
	flagNoHistory = flag.Bool("no-history", false, "Only report detections, skip history reads")
)

func main() {
	// Optional .env for desk deployments; absence is fine.
	_ = godotenv.Load()

	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *flagDebug || os.Getenv("ICCARD_DEBUG") != "" {
		log.SetLevel(logrus.DebugLevel)
		iccard.SetDebugEnabled(true)
	}

	if err := run(log); err != nil {
		log.WithError(err).Fatal("reader host failed")
	}
}

func run(log *logrus.Logger) error {
	transport, err := pcsc.New()
	if err != nil {
		return fmt.Errorf("establishing PC/SC context: %w", err)
	}
	defer func() { _ = transport.Close() }()

	if *flagListOnly {
		return listReaders(transport)
	}

	cfg := session.DefaultConfig()
	cfg.Logger = log
	cfg.ReaderName = readerName()
	cfg.PollInterval = *flagPoll
	cfg.HealthCheckInterval = *flagHealth
	cfg.UseHardwareEvents = *flagMonitor
	cfg.Resolver = envResolver()

	ctrl := session.NewController(transport, cfg)

	ctrl.SetOnConnectionStateChanged(func(ev session.ConnectionStateEvent) {
		fmt.Printf("[%s] %s (retry %d)\n", ev.State, ev.Message, ev.RetryCount)
	})
	ctrl.SetOnError(func(ev session.ErrorEvent) {
		log.WithError(ev.Err).Warn("session error")
	})
	ctrl.SetOnCardDetected(func(ev session.CardDetectedEvent) {
		fmt.Printf("card detected: IDm=%s system=%04X\n", ev.IDm, ev.SystemCode)
		if !*flagNoHistory {
			dumpCard(ctrl, ev.IDm)
		}
	})

	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer func() { _ = ctrl.Stop() }()

	fmt.Printf("watching reader %q, press Ctrl+C to exit\n", ctrl.Reader())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nshutting down")
	return nil
}

// listReaders prints the attached readers.
func listReaders(transport iccard.Transport) error {
	readers, err := transport.ListReaders()
	if err != nil {
		return fmt.Errorf("listing readers: %w", err)
	}
	if len(readers) == 0 {
		fmt.Println("no readers attached")
		return nil
	}
	for i, r := range readers {
		fmt.Printf("%d: %s\n", i, r)
	}
	return nil
}

// dumpCard reads and prints the balance and decoded history of a card.
func dumpCard(ctrl *session.Controller, idm iccard.IDm) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if balance, ok := ctrl.ReadBalance(ctx, idm); ok {
		fmt.Printf("  balance: %d\n", balance)
	} else {
		fmt.Println("  balance: unavailable")
	}

	details, err := ctrl.ReadHistory(ctx, idm)
	if err != nil {
		fmt.Printf("  history: %v\n", err)
		return
	}
	if len(details) == 0 {
		fmt.Println("  history: empty (card removed or no records)")
		return
	}

	for i, d := range details {
		fmt.Printf("  [%2d] %s\n", i, formatDetail(d))
	}
}

// formatDetail renders one ledger entry for the console.
func formatDetail(d history.LedgerDetail) string {
	date := "----/--/--"
	if !d.Date.IsZero() {
		date = d.Date.Format("2006/01/02")
	}

	amount := "     ?"
	if d.HasAmount {
		amount = fmt.Sprintf("%+6d", d.Amount)
	}

	switch {
	case d.IsCharge:
		return fmt.Sprintf("%s  charge %s  balance %5d", date, amount, d.Balance)
	case d.IsBus:
		return fmt.Sprintf("%s  bus    %s  balance %5d", date, amount, d.Balance)
	default:
		return fmt.Sprintf("%s  rail   %s  balance %5d  %s -> %s",
			date, amount, d.Balance, d.EntryStationName, d.ExitStationName)
	}
}

// readerName resolves the reader selection: flag first, then environment.
func readerName() string {
	if *flagReader != "" {
		return *flagReader
	}
	return os.Getenv("ICCARD_READER")
}

// envResolver returns a trivial station resolver for standalone use. The
// composed application injects the real station-code table; here every
// code falls back to its numeric label.
func envResolver() history.StationResolver {
	return func(uint16, history.Area) string { return "" }
}
