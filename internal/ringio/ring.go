// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ringio defines the seam between the Request Engine and the
// shared-memory producer/consumer ring a real backend would map over a
// granted ring page. The actual grant-mapped ring page is external
// plumbing; this package carries the interface plus an in-process SPSC
// implementation good enough to drive the engine in tests and in a
// local harness, modeled on vhostuser/server.go's Ring/Virtq bookkeeping
// (LastAvailIdx/UsedIdx) generalized from split virtqueues to the
// single blkif ring.
package ringio

import "github.com/openxt-go/us-blkback/internal/blkif"

// Request is a decoded ring entry: the common header plus, when
// Operation is blkif.OpDiscard or blkif.OpIndirect, the corresponding
// variant payload. The engine switches on Operation to decide which
// field is populated.
type Request struct {
	Header   blkif.RequestHeader
	Discard  blkif.DiscardRequest
	Indirect blkif.IndirectRequest
}

// Ring is a single producer/consumer queue of requests in, responses
// out -- the blkif ring abstracted away from its shared-memory
// representation.
type Ring interface {
	// Pop removes and returns the next available request, or ok=false
	// if the ring is currently empty.
	Pop() (Request, bool)

	// Push posts a response. Responses must be pushed in the order
	// their requests completed.
	Push(blkif.Response)

	// Responses drains and returns everything pushed so far, for
	// tests and harnesses standing in for the frontend's consumer side.
	Responses() []blkif.Response
}

// Mem is an in-process Ring backed by plain slices, standing in for a
// shared memory page mapped from the granted ring-ref. Not safe for
// concurrent Pop/Push from multiple goroutines -- like the real ring,
// it is owned by one frontend's engine worker.
type Mem struct {
	pending   []Request
	responses []blkif.Response
}

// NewMem constructs an empty in-process ring.
func NewMem() *Mem {
	return &Mem{}
}

// Enqueue appends a request as if the frontend had just produced it.
// Test/harness-only: a real ring's producer side is the guest.
func (m *Mem) Enqueue(r Request) {
	m.pending = append(m.pending, r)
}

func (m *Mem) Pop() (Request, bool) {
	if len(m.pending) == 0 {
		return Request{}, false
	}
	r := m.pending[0]
	m.pending = m.pending[1:]
	return r, true
}

func (m *Mem) Push(resp blkif.Response) {
	m.responses = append(m.responses, resp)
}

func (m *Mem) Responses() []blkif.Response {
	out := m.responses
	m.responses = nil
	return out
}

// Empty reports whether the ring currently has no requests pending.
func (m *Mem) Empty() bool {
	return len(m.pending) == 0
}
