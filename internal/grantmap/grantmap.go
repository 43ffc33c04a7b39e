// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package grantmap defines the seam between the Grant Cache and the
// hypervisor's grant-table map/unmap calls. The real implementation
// (talking to /dev/xen/gntdev or the platform equivalent) is external
// plumbing this repo does not own; this package only carries the
// interface and an in-process fake used by tests.
package grantmap

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mapper maps and unmaps single grant-referenced pages into the
// backend's address space. One hypervisor call per Map, one per Unmap —
// the Grant Cache is what amortizes this cost across requests.
type Mapper interface {
	// Map grants read+write access to the page identified by ref and
	// returns its mapped address. Idempotent with respect to ref is
	// NOT required of the implementation -- the Grant Cache is the
	// layer responsible for not mapping the same ref twice.
	Map(ref uint32) (unsafe.Pointer, error)

	// Unmap releases a page previously returned by Map.
	Unmap(addr unsafe.Pointer) error
}

// ErrMapFailed wraps a failure from a Mapper's Map call.
type ErrMapFailed struct {
	Ref uint32
	Err error
}

func (e *ErrMapFailed) Error() string {
	return fmt.Sprintf("grantmap: map gref %d: %v", e.Ref, e.Err)
}

func (e *ErrMapFailed) Unwrap() error { return e.Err }

// Anon is a Mapper backed by anonymous, page-sized mmap regions keyed by
// mapped address; every Map call, even for a ref it has seen before,
// returns a fresh page. It stands in for the hypervisor in tests and local
// harnesses: instead of mapping a guest's page, it hands back a private
// zeroed page that the test can fill in directly. Modeled on
// vhostuser/deviceregion.go's use of unix.Mmap/unix.Madvise for backend
// memory regions.
type Anon struct {
	pageSize int
	byAddr   map[unsafe.Pointer][]byte
}

// NewAnon constructs an Anon mapper. pageSize is normally 4096; tests may
// pass a smaller size to keep fixtures compact.
func NewAnon(pageSize int) *Anon {
	return &Anon{
		pageSize: pageSize,
		byAddr:   make(map[unsafe.Pointer][]byte),
	}
}

func (a *Anon) Map(ref uint32) (unsafe.Pointer, error) {
	data, err := unix.Mmap(-1, 0, a.pageSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, &ErrMapFailed{Ref: ref, Err: err}
	}
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)
	addr := unsafe.Pointer(&data[0])
	a.byAddr[addr] = data
	return addr, nil
}

func (a *Anon) Unmap(addr unsafe.Pointer) error {
	data, ok := a.byAddr[addr]
	if !ok {
		return fmt.Errorf("grantmap: unmap unknown address %p", addr)
	}
	delete(a.byAddr, addr)
	return unix.Munmap(data)
}

// Page returns the backing slice for a previously mapped address,
// letting test code read/write the "guest" page directly.
func (a *Anon) Page(addr unsafe.Pointer) []byte {
	return a.byAddr[addr]
}
