// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build windows

package winsvc

import (
	"context"

	"golang.org/x/sys/windows/svc"
)

// SCM runs under the Windows Service Control Manager, reporting
// StartPending/Running/StopPending as start's lifecycle progresses and
// translating a stop/preshutdown control request into context
// cancellation.
type SCM struct{}

// New returns the platform's Host. On Windows that is SCM.
func New() Host { return SCM{} }

func (SCM) Run(ctx context.Context, start func(ctx context.Context) error) error {
	runner := &serviceRunner{start: start}
	return svc.Run("us-blkback", runner)
}

type serviceRunner struct {
	start func(ctx context.Context) error
}

func (r *serviceRunner) Execute(args []string, req <-chan svc.ChangeRequest, status chan<- svc.Status) (bool, uint32) {
	const accepted = svc.AcceptStop | svc.AcceptShutdown | svc.AcceptPreShutdown

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	status <- svc.Status{State: svc.StartPending}
	done := make(chan error, 1)
	go func() { done <- r.start(ctx) }()
	status <- svc.Status{State: svc.Running, Accepts: accepted}

	for {
		select {
		case err := <-done:
			if err != nil {
				status <- svc.Status{State: svc.StopPending}
				return true, 1
			}
			status <- svc.Status{State: svc.StopPending}
			return false, 0
		case c := <-req:
			switch c.Cmd {
			case svc.Stop, svc.Shutdown, svc.PreShutdown:
				status <- svc.Status{State: svc.StopPending}
				cancel()
				<-done
				return false, 0
			case svc.Interrogate:
				status <- c.CurrentStatus
			}
		}
	}
}
