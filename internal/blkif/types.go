// Copyright 2016 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blkif describes the wire layout of the Xen block-interface
// (blkif) ABI: request/response records and segment descriptors, taken
// bit-exact from the public hypervisor header so the frontend and this
// backend agree on byte layout without a custom encoding.
package blkif

import "fmt"

// Operation codes. include/public/io/blkif.h.
const (
	OpRead           = 0
	OpWrite          = 1
	OpWriteBarrier   = 2
	OpFlushDiskCache = 3
	OpDiscard        = 5
	OpIndirect       = 6
)

var opNames = map[uint8]string{
	OpRead:           "READ",
	OpWrite:          "WRITE",
	OpWriteBarrier:   "WRITE_BARRIER",
	OpFlushDiskCache: "FLUSH_DISKCACHE",
	OpDiscard:        "DISCARD",
	OpIndirect:       "INDIRECT",
}

// OpName renders an operation code for logging, falling back to its
// numeric value for codes this backend does not recognize.
func OpName(op uint8) string {
	if nm, ok := opNames[op]; ok {
		return nm
	}
	return fmt.Sprintf("0x%x", op)
}

// Response status values. Canonical three-value blkif enum (see
// SPEC_FULL.md Open Questions for why this differs from the host-errno
// values the original C++ build embedded).
const (
	RspOkay        int16 = 0
	RspError       int16 = -1
	RspEOpNotSupp  int16 = -2
)

// Wire-level constants.
const (
	SectorSize              = 512
	SectorsPerPage          = 8 // PAGE_SIZE / SECTOR_SIZE on a 4K page
	MaxSegmentsPerRequest    = 11
	MaxIndirectGrefsPerFrame = 8
	SegmentsPerIndirectPage  = 512 // PAGE_SIZE / sizeof(SegmentDescriptor)
	MaxIndirectSegments      = 256 // advertised feature-*-max-indirect-segments cap, also the validated cap
	PageSize                 = 4096
)

// ConstRingSize mirrors the kernel's __CONST_RING_SIZE(blkif, pagesize)
// macro: how many request/response slots fit in a shared ring page after
// the two producer/consumer indices.
func ConstRingSize(pageSize int) int {
	const idxSize = 4 // req_prod_pvt / rsp_prod, each a 32-bit counter, x2
	hdr := idxSize * 2
	entry := requestWireSize + responseWireSize
	return (pageSize - hdr) / entry
}

const (
	requestWireSize  = 8 + 8 + 1 + 1 + 2 + MaxSegmentsPerRequest*8
	responseWireSize = 8 + 1 + 1 + 2
)

// SegmentDescriptor addresses one scatter/gather segment: up to
// SectorsPerPage contiguous sectors within a single granted page.
type SegmentDescriptor struct {
	GrantRef uint32
	First    uint8
	Last     uint8
	_        uint16 // pad, wire layout
}

// Valid reports whether the descriptor satisfies the blkif invariant:
// gref != 0 and first <= last < SectorsPerPage. A zero gref is never
// valid on the wire (grant reference 0 is reserved).
func (s SegmentDescriptor) Valid() bool {
	return s.GrantRef != 0 && s.First <= s.Last && s.Last < SectorsPerPage
}

// NrSectors returns the number of sectors this segment covers.
func (s SegmentDescriptor) NrSectors() uint64 {
	return uint64(s.Last-s.First) + 1
}

// RequestHeader is the direct (non-indirect, non-discard) request shape:
// a sector range expressed as up to MaxSegmentsPerRequest inline segment
// descriptors.
type RequestHeader struct {
	Operation    uint8
	NrSegments   uint8
	Handle       uint16
	ID           uint64
	SectorNumber uint64
	Segments     [MaxSegmentsPerRequest]SegmentDescriptor
}

// DiscardRequest is the BLKIF_OP_DISCARD variant: a sector range with no
// segment descriptors.
type DiscardRequest struct {
	Operation    uint8
	_            [7]byte
	ID           uint64
	SectorNumber uint64
	NrSectors    uint64
	Flag         uint8
	_            [7]byte
}

// IndirectRequest is the BLKIF_OP_INDIRECT variant: segment descriptors
// live on separately-granted pages, referenced here by grant reference,
// enabling transfers larger than the 11 inline segments allow.
type IndirectRequest struct {
	Operation    uint8
	IndirectOp   uint8
	NrSegments   uint16
	Handle       uint16
	_            [2]byte
	ID           uint64
	SectorNumber uint64
	IndirectGrefs [MaxIndirectGrefsPerFrame]uint32
}

// NrIndirectPages returns how many indirect-gref pages are needed to hold
// nrSegments segment descriptors, SegmentsPerIndirectPage each.
func NrIndirectPages(nrSegments uint16) int {
	n := int(nrSegments) / SegmentsPerIndirectPage
	if int(nrSegments)%SegmentsPerIndirectPage != 0 {
		n++
	}
	return n
}

// Response is the wire-fixed response record posted back to the
// frontend: the echoed id, the (possibly rewritten, for INDIRECT)
// operation code, and a status.
type Response struct {
	ID        uint64
	Operation uint8
	_         [3]byte
	Status    int16
}

func (r Response) String() string {
	return fmt.Sprintf("{id=%d op=%s status=%d}", r.ID, OpName(r.Operation), r.Status)
}
