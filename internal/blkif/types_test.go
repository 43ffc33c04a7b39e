// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blkif

import "testing"

func TestSegmentDescriptorValid(t *testing.T) {
	cases := []struct {
		name string
		seg  SegmentDescriptor
		want bool
	}{
		{"ordinary", SegmentDescriptor{GrantRef: 7, First: 0, Last: 7}, true},
		{"single sector", SegmentDescriptor{GrantRef: 7, First: 3, Last: 3}, true},
		{"zero gref", SegmentDescriptor{GrantRef: 0, First: 0, Last: 7}, false},
		{"first after last", SegmentDescriptor{GrantRef: 7, First: 5, Last: 4}, false},
		{"last out of page", SegmentDescriptor{GrantRef: 7, First: 0, Last: 8}, false},
	}
	for _, c := range cases {
		if got := c.seg.Valid(); got != c.want {
			t.Errorf("%s: Valid() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestSegmentDescriptorNrSectors(t *testing.T) {
	seg := SegmentDescriptor{GrantRef: 1, First: 2, Last: 5}
	if got := seg.NrSectors(); got != 4 {
		t.Errorf("NrSectors() = %d, want 4", got)
	}
}

func TestNrIndirectPages(t *testing.T) {
	cases := []struct {
		n    uint16
		want int
	}{
		{0, 0},
		{1, 1},
		{SegmentsPerIndirectPage, 1},
		{SegmentsPerIndirectPage + 1, 2},
		{MaxIndirectSegments, 1},
	}
	for _, c := range cases {
		if got := NrIndirectPages(c.n); got != c.want {
			t.Errorf("NrIndirectPages(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestConstRingSize(t *testing.T) {
	got := ConstRingSize(PageSize)
	if got <= 0 {
		t.Fatalf("ConstRingSize(%d) = %d, want positive", PageSize, got)
	}
	// A page must fit at least one request+response slot plus the two
	// producer/consumer indices.
	if hdr, entry := 8, requestWireSize+responseWireSize; got*entry+hdr > PageSize {
		t.Fatalf("ConstRingSize(%d) = %d overcommits the page (entry=%d)", PageSize, got, entry)
	}
}

func TestOpName(t *testing.T) {
	if got := OpName(OpRead); got != "READ" {
		t.Errorf("OpName(OpRead) = %q, want READ", got)
	}
	if got := OpName(0x7f); got != "0x7f" {
		t.Errorf("OpName(unknown) = %q, want fallback hex", got)
	}
}
