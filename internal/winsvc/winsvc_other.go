// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !windows

package winsvc

import "context"

// Stub is the non-Windows Host: there is no service control manager to
// hand the process to, so Run simply calls start inline.
type Stub struct{}

// New returns the platform's Host. On this platform that is Stub.
func New() Host { return Stub{} }

func (Stub) Run(ctx context.Context, start func(ctx context.Context) error) error {
	return start(ctx)
}
