// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"unsafe"

	"github.com/openxt-go/us-blkback/internal/blkif"
)

// pageBytes views a mapped grant page as a byte slice of PageSize,
// for segment payload copies and indirect-descriptor parsing.
func pageBytes(addr unsafe.Pointer) []byte {
	return unsafe.Slice((*byte)(addr), blkif.PageSize)
}

// segmentsFromPage reinterprets a mapped indirect page as its array of
// segment descriptors, bit-exact with the wire layout -- a frontend
// writes SegmentDescriptor records directly into the granted page, no
// separate encoding step.
func segmentsFromPage(page []byte) []blkif.SegmentDescriptor {
	return unsafe.Slice((*blkif.SegmentDescriptor)(unsafe.Pointer(&page[0])), blkif.SegmentsPerIndirectPage)
}
