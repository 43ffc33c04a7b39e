// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package winsvc defines the seam the --windows-svc CLI flag routes
// through: a platform service host able to run this backend's start
// function under its native service control manager. This package
// carries the interface, the Windows Service Control Manager host
// (winsvc_windows.go), and the non-Windows stub.
package winsvc

import "context"

// Host runs start under a platform's service supervision, if one
// exists, blocking until the service is asked to stop.
type Host interface {
	Run(ctx context.Context, start func(ctx context.Context) error) error
}
