// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grantcache

import (
	"testing"

	"github.com/openxt-go/us-blkback/internal/grantmap"
)

func TestGetOrMapHitPreservesAddress(t *testing.T) {
	mapper := grantmap.NewAnon(4096)
	c := New(mapper, 4, nil)

	addr1, err := c.GetOrMap(10)
	if err != nil {
		t.Fatal(err)
	}
	addr2, err := c.GetOrMap(10)
	if err != nil {
		t.Fatal(err)
	}
	if addr1 != addr2 {
		t.Fatalf("GetOrMap hit returned a different address: %p != %p", addr1, addr2)
	}
	if got := c.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestEvictionAtCapacity(t *testing.T) {
	mapper := grantmap.NewAnon(4096)
	c := New(mapper, 100, nil) // evictSz = ceil(100*0.05) = 5

	for gref := uint32(1); gref <= 100; gref++ {
		if _, err := c.GetOrMap(gref); err != nil {
			t.Fatalf("GetOrMap(%d): %v", gref, err)
		}
	}
	if got := c.Len(); got != 100 {
		t.Fatalf("Len() at capacity = %d, want 100", got)
	}

	// One more miss must trigger a batch eviction, not a one-for-one
	// replacement: the cache drops down to capacity-evictSz resident
	// entries, then admits the new one.
	if _, err := c.GetOrMap(101); err != nil {
		t.Fatal(err)
	}
	if got, want := c.Len(), 100-c.evictSz+1; got != want {
		t.Fatalf("Len() after eviction-triggering miss = %d, want %d", got, want)
	}
}

func TestGetOrMapEvictsLeastRecentlyUsed(t *testing.T) {
	mapper := grantmap.NewAnon(4096)
	c := New(mapper, 4, nil) // evictSz = ceil(4*0.05) = 1

	for gref := uint32(1); gref <= 4; gref++ {
		if _, err := c.GetOrMap(gref); err != nil {
			t.Fatal(err)
		}
	}
	// Touch gref 1 so it is no longer the least recently used; gref 2
	// becomes the eviction candidate instead.
	if _, err := c.GetOrMap(1); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrMap(5); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.index[2]; ok {
		t.Fatal("gref 2 survived eviction; want it evicted as least recently used")
	}
	if _, ok := c.index[1]; !ok {
		t.Fatal("gref 1 was evicted; want it retained after being touched")
	}
}

func TestCloseUnmapsEverything(t *testing.T) {
	mapper := grantmap.NewAnon(4096)
	c := New(mapper, 4, nil)

	for gref := uint32(1); gref <= 4; gref++ {
		if _, err := c.GetOrMap(gref); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if got := c.Len(); got != 0 {
		t.Fatalf("Len() after Close = %d, want 0", got)
	}
}
