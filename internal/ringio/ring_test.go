// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ringio

import (
	"testing"

	"github.com/openxt-go/us-blkback/internal/blkif"
)

func TestMemPopFIFO(t *testing.T) {
	m := NewMem()
	if !m.Empty() {
		t.Fatal("new Mem: want Empty() true")
	}
	m.Enqueue(Request{Header: blkif.RequestHeader{ID: 1}})
	m.Enqueue(Request{Header: blkif.RequestHeader{ID: 2}})

	first, ok := m.Pop()
	if !ok || first.Header.ID != 1 {
		t.Fatalf("Pop() = %+v, %v, want ID=1, true", first, ok)
	}
	second, ok := m.Pop()
	if !ok || second.Header.ID != 2 {
		t.Fatalf("Pop() = %+v, %v, want ID=2, true", second, ok)
	}
	if _, ok := m.Pop(); ok {
		t.Fatal("Pop() on empty ring: want ok=false")
	}
}

func TestMemResponsesDrainInOrder(t *testing.T) {
	m := NewMem()
	m.Push(blkif.Response{ID: 1, Status: blkif.RspOkay})
	m.Push(blkif.Response{ID: 2, Status: blkif.RspError})

	got := m.Responses()
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("Responses() = %+v, want [ID=1, ID=2] in order", got)
	}
	if got := m.Responses(); len(got) != 0 {
		t.Fatalf("Responses() after drain = %+v, want empty", got)
	}
}
