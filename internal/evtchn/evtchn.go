// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package evtchn defines the seam between the Request Engine and the
// hypervisor event channel: the notification primitive a frontend uses
// to wake this backend when it has produced ring entries, and that this
// backend uses to tell the frontend a response is ready. The real event
// channel is external plumbing; this package carries the interface and
// a channel-backed fake, modeled on vhostuser/device.go's eventfd
// kick/notify pair (KickFD read loop, CallFD write-one-byte notify).
package evtchn

import "context"

// Notifier is one frontend's event channel, from this backend's point
// of view.
type Notifier interface {
	// Wait blocks until the frontend has signaled (new ring entries
	// are available) or ctx is done.
	Wait(ctx context.Context) error

	// Notify signals the frontend that a response is ready.
	Notify() error
}

// Chan is a Notifier backed by a buffered Go channel, standing in for
// the eventfd pair a real backend would read/write.
type Chan struct {
	kick chan struct{}
	call chan struct{}
}

// NewChan constructs a Notifier suitable for tests and local harnesses.
func NewChan() *Chan {
	return &Chan{
		kick: make(chan struct{}, 1),
		call: make(chan struct{}, 64),
	}
}

func (c *Chan) Wait(ctx context.Context) error {
	select {
	case <-c.kick:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Chan) Notify() error {
	select {
	case c.call <- struct{}{}:
	default:
		// Coalesce: the frontend only needs to know "something is
		// ready", not how many notifications fired.
	}
	return nil
}

// Kick is the harness/test-side half: simulate the frontend producing
// ring entries and signaling this backend.
func (c *Chan) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Notified reports whether Notify has fired since the last call,
// draining the signal.
func (c *Chan) Notified() bool {
	select {
	case <-c.call:
		return true
	default:
		return false
	}
}
