// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package grantcache implements the per-frontend bounded LRU of mapped
// grant pages: a recency list and a gref->position index kept in
// lockstep, evicted in batches to amortize the cost of the underlying
// hypervisor unmap call.
package grantcache

import (
	"container/list"
	"math"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/openxt-go/us-blkback/internal/grantmap"
)

// DefaultCapacity is MAX_PGRANTS_PER_FRONTEND = MAX_PGRANTS / MAX_FRONTENDS
// = 8192 / 8.
const DefaultCapacity = 1024

// DefaultEvictionFraction is the batch-eviction policy: on overflow,
// evict until the cache holds capacity - ceil(capacity*5%) entries.
const DefaultEvictionFraction = 0.05

// entry is one resident grant mapping. Its address is stable for the
// lifetime of its list.Element -- promotion is pure link surgery
// (list.MoveToFront), never a copy.
type entry struct {
	gref uint32
	addr unsafe.Pointer
}

// Cache is a bounded LRU of grant-reference -> mapped-page. It is owned
// by exactly one frontend's Engine and requires no internal locking: the
// engine's single worker goroutine is the only accessor.
type Cache struct {
	mapper   grantmap.Mapper
	capacity int
	evictSz  int

	recency *list.List               // front = most recently used
	index   map[uint32]*list.Element // gref -> node in recency

	log *logrus.Entry
}

// New constructs a Cache with the given capacity, backed by mapper for
// the actual hypervisor map/unmap calls.
func New(mapper grantmap.Mapper, capacity int, log *logrus.Entry) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	evictSz := int(math.Ceil(float64(capacity) * DefaultEvictionFraction))
	if evictSz < 1 {
		evictSz = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Cache{
		mapper:   mapper,
		capacity: capacity,
		evictSz:  evictSz,
		recency:  list.New(),
		index:    make(map[uint32]*list.Element),
		log:      log,
	}
}

// Len reports the number of resident grant mappings.
func (c *Cache) Len() int {
	return c.recency.Len()
}

// GetOrMap resolves gref to its mapped page address. A hit moves the
// entry to the head of the recency list (pure link surgery, no
// hypervisor call); a miss maps it, evicting a batch first if the cache
// is full.
func (c *Cache) GetOrMap(gref uint32) (unsafe.Pointer, error) {
	if el, ok := c.index[gref]; ok {
		c.recency.MoveToFront(el)
		return el.Value.(*entry).addr, nil
	}

	if c.recency.Len() >= c.capacity {
		c.evictBatch()
	}

	addr, err := c.mapper.Map(gref)
	if err != nil {
		return nil, err
	}

	el := c.recency.PushFront(&entry{gref: gref, addr: addr})
	c.index[gref] = el
	return addr, nil
}

// evictBatch drops entries from the tail of the recency list until the
// cache holds capacity-evictionSize entries, amortizing the unmap cost over
// many requests at the expense of a latency spike on the triggering
// request.
func (c *Cache) evictBatch() {
	lowWater := c.capacity - c.evictSz
	if lowWater < 0 {
		lowWater = 0
	}
	evicted := 0
	for c.recency.Len() > lowWater {
		back := c.recency.Back()
		if back == nil {
			break
		}
		e := back.Value.(*entry)
		c.recency.Remove(back)
		delete(c.index, e.gref)
		if err := c.mapper.Unmap(e.addr); err != nil {
			c.log.WithFields(logrus.Fields{"gref": e.gref}).Warnf("grantcache: unmap on evict: %v", err)
		}
		evicted++
	}
	if evicted > 0 {
		c.log.WithField("evicted", evicted).Debug("grantcache: batch eviction")
	}
}

// Close unmaps every resident entry and clears the cache. Must be driven
// by the owning frontend handler's teardown path; leaking a mapping
// wedges a guest page.
func (c *Cache) Close() error {
	var firstErr error
	for el := c.recency.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if err := c.mapper.Unmap(e.addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.recency.Init()
	c.index = make(map[uint32]*list.Element)
	return firstErr
}
