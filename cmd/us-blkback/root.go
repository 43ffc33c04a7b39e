// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openxt-go/us-blkback/internal/cpuaffinity"
	"github.com/openxt-go/us-blkback/internal/supervisor"
	"github.com/openxt-go/us-blkback/internal/winsvc"
)

var (
	affinityFlag     int
	waitFlag         bool
	highPriorityFlag bool
	windowsSvcFlag   bool
)

// driverOpenRetries and driverOpenBackoff bound the -w/--wait retry
// loop: poll the hypervisor-interface driver on a fixed backoff instead
// of failing at startup, the way go-ublk's queue runner waits out udev.
const (
	driverOpenRetries = 30
	driverOpenBackoff = 500 * time.Millisecond
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "us-blkback",
		Short:         "Userspace paravirtualized block backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runBackend,
	}
	cmd.Flags().IntVarP(&affinityFlag, "affinity", "a", -1, "pin process to CPU index (default: highest-numbered online CPU)")
	cmd.Flags().BoolVarP(&waitFlag, "wait", "w", false, "poll the hypervisor-interface driver until ready instead of failing at startup")
	cmd.Flags().BoolVar(&highPriorityFlag, "high-priority", false, "elevate process priority (platform-conditional, no-op here)")
	cmd.Flags().BoolVar(&windowsSvcFlag, "windows-svc", false, "run under the platform service control manager")
	return cmd
}

func runBackend(cmd *cobra.Command, args []string) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	cpu := affinityFlag
	if cpu < 0 {
		var err error
		cpu, err = cpuaffinity.HighestOnline()
		if err != nil {
			return fmt.Errorf("us-blkback: determine default affinity: %w", err)
		}
	}
	if err := cpuaffinity.Pin(cpu); err != nil {
		return fmt.Errorf("us-blkback: affinity: %w", err)
	}
	log = log.WithField("cpu", cpu)

	if highPriorityFlag {
		log.Info("us-blkback: --high-priority is a no-op on this platform")
	}

	if waitFlag {
		if err := waitForDriver(); err != nil {
			return fmt.Errorf("us-blkback: %w", err)
		}
	}

	sup := supervisor.New(log)
	start := func(ctx context.Context) error {
		return runSupervisor(ctx, sup, log)
	}

	if windowsSvcFlag {
		return winsvc.New().Run(cmd.Context(), start)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return start(ctx)
}

// runSupervisor blocks until ctx is cancelled, then tears down every
// bound frontend before returning, mirroring spec.md's shutdown
// ordering: stop accepting new frontends, tear down existing handlers,
// return 0.
func runSupervisor(ctx context.Context, sup *supervisor.Supervisor, log *logrus.Entry) error {
	log.Info("us-blkback: started")
	<-ctx.Done()
	log.Info("us-blkback: shutting down")
	sup.Stop()
	return nil
}

// waitForDriver retries opening the hypervisor-interface driver on a
// fixed backoff. No real driver ships with this backend (the
// hypervisor-store, grant-table, and ring collaborators are external
// plumbing); this loop is the seam a production build wires a real
// readiness check into.
func waitForDriver() error {
	var lastErr error
	for i := 0; i < driverOpenRetries; i++ {
		if lastErr = openDriver(); lastErr == nil {
			return nil
		}
		time.Sleep(driverOpenBackoff)
	}
	return fmt.Errorf("hypervisor-interface driver not ready after %d attempts: %w", driverOpenRetries, lastErr)
}

// openDriver is the seam a production build would point at the real
// hypervisor-interface device node. No such device exists in this
// repo's scope, so it always succeeds.
func openDriver() error { return nil }
