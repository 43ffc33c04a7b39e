// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package validator screens ring requests against blkif wire-level
// invariants before any grant mapping or image I/O happens, so a
// malformed request never reaches the Grant Cache or Image Store.
package validator

import (
	"errors"
	"fmt"

	"github.com/openxt-go/us-blkback/internal/blkif"
)

var (
	// ErrBadSegmentCount is returned when a direct request has zero
	// or more than blkif.MaxSegmentsPerRequest segments.
	ErrBadSegmentCount = errors.New("validator: bad segment count")

	// ErrBadSegment is returned when a segment descriptor fails
	// gref != 0 && first <= last < SectorsPerPage.
	ErrBadSegment = errors.New("validator: bad segment descriptor")

	// ErrBadIndirectOp is returned when an indirect request's inner op
	// is neither READ nor WRITE.
	ErrBadIndirectOp = errors.New("validator: bad indirect op")

	// ErrBadIndirectCount is returned when an indirect request has
	// zero or more than blkif.MaxIndirectSegments segments.
	ErrBadIndirectCount = errors.New("validator: bad indirect segment count")

	// ErrUnsupportedOp is returned for operation codes this backend
	// does not implement; the engine maps it to BLKIF_RSP_EOPNOTSUPP
	// rather than BLKIF_RSP_ERROR.
	ErrUnsupportedOp = errors.New("validator: unsupported operation")
)

// ValidateSegment checks one segment descriptor's wire invariant.
func ValidateSegment(seg blkif.SegmentDescriptor) error {
	if !seg.Valid() {
		return fmt.Errorf("%w: gref=%d first=%d last=%d", ErrBadSegment, seg.GrantRef, seg.First, seg.Last)
	}
	return nil
}

// ValidateDirect checks a READ/WRITE request's segment list: 0 < n <=
// MaxSegmentsPerRequest, and every segment individually valid.
func ValidateDirect(req *blkif.RequestHeader) error {
	n := req.NrSegments
	if n == 0 || n > blkif.MaxSegmentsPerRequest {
		return fmt.Errorf("%w: nr_segments=%d", ErrBadSegmentCount, n)
	}
	for i := 0; i < int(n); i++ {
		if err := ValidateSegment(req.Segments[i]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateIndirect checks an INDIRECT request's shape: inner op is READ
// or WRITE, and 0 < nr_segments <= MaxIndirectSegments. Segment
// descriptors living on the indirect pages are validated individually by
// the engine as each indirect page is resolved, since validating them
// here would require mapping grants before validation -- and shape
// checks must stay ahead of any mapping.
func ValidateIndirect(req *blkif.IndirectRequest) error {
	if req.IndirectOp != blkif.OpRead && req.IndirectOp != blkif.OpWrite {
		return fmt.Errorf("%w: indirect_op=%d", ErrBadIndirectOp, req.IndirectOp)
	}
	n := req.NrSegments
	if n == 0 || n > blkif.MaxIndirectSegments {
		return fmt.Errorf("%w: nr_segments=%d", ErrBadIndirectCount, n)
	}
	return nil
}

// ValidateOp reports ErrUnsupportedOp for any operation code this
// backend does not recognize, so the engine can route it to
// BLKIF_RSP_EOPNOTSUPP instead of BLKIF_RSP_ERROR.
func ValidateOp(op uint8) error {
	switch op {
	case blkif.OpRead, blkif.OpWrite, blkif.OpWriteBarrier, blkif.OpFlushDiskCache, blkif.OpDiscard, blkif.OpIndirect:
		return nil
	default:
		return fmt.Errorf("%w: op=%d", ErrUnsupportedOp, op)
	}
}
