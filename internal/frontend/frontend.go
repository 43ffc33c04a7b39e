// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frontend implements the per-guest bind/close lifecycle: on
// bind, read a frontend's configuration, open its image, publish
// feature flags, and start its Request Engine; on close, drain and
// tear the collaborators down in dependency order. Modeled on
// vhostuser/util.go's ServeFS setup/teardown shape.
package frontend

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/openxt-go/us-blkback/internal/blkif"
	"github.com/openxt-go/us-blkback/internal/engine"
	"github.com/openxt-go/us-blkback/internal/evtchn"
	"github.com/openxt-go/us-blkback/internal/grantcache"
	"github.com/openxt-go/us-blkback/internal/grantmap"
	"github.com/openxt-go/us-blkback/internal/image"
	"github.com/openxt-go/us-blkback/internal/ringio"
	"github.com/openxt-go/us-blkback/internal/xenstore"
)

// Config names one guest's configuration-tree paths and its
// collaborators.
type Config struct {
	FrontendPath string // e.g. "/local/domain/7/device/vbd/51712"
	BackendPath  string // e.g. "/local/domain/0/backend/vbd/7/51712"

	Store  xenstore.Store
	Mapper grantmap.Mapper
	Notify evtchn.Notifier

	GrantCacheCapacity int // 0 selects grantcache.DefaultCapacity
}

// Handler owns one bound frontend's collaborators and its Engine
// goroutine.
type Handler struct {
	cfg   Config
	store *image.Store
	cache *grantcache.Cache
	ring  *ringio.Mem
	eng   *engine.Engine

	cancel context.CancelFunc
	g      *errgroup.Group

	log *logrus.Entry
}

// feature flags published on bind. feature-persistent=1 advertises
// that this backend retains grant mappings across requests -- the
// Grant Cache is the implementation of that promise.
var featureFlags = []struct {
	key string
	val int64
}{
	{"feature-max-indirect-segments", blkif.MaxIndirectSegments},
	{"feature-discard", 0},
	{"feature-persistent", 1},
	{"feature-flush-cache", 1},
	{"feature-barrier", 1},
	{"sector-size", blkif.SectorSize},
}

// Bind reads a frontend's ring/event-channel/image parameters, opens
// its image, publishes the feature-flag table, and starts its Request
// Engine. The returned Handler owns every collaborator it constructs;
// Close tears them down in reverse order.
func Bind(ctx context.Context, cfg Config, log *logrus.Entry) (*Handler, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("frontend", cfg.FrontendPath)

	if _, err := cfg.Store.ReadInt(cfg.FrontendPath + "/event-channel"); err != nil {
		return nil, fmt.Errorf("frontend: read event-channel: %w", err)
	}
	if _, err := cfg.Store.ReadInt(cfg.FrontendPath + "/ring-ref"); err != nil {
		return nil, fmt.Errorf("frontend: read ring-ref: %w", err)
	}

	rawParams, err := cfg.Store.ReadString(cfg.BackendPath + "/params")
	if err != nil {
		return nil, fmt.Errorf("frontend: read params: %w", err)
	}
	path := stripOneQuotePair(rawParams)

	st, err := image.Open(path)
	if err != nil {
		return nil, fmt.Errorf("frontend: open image %s: %w", path, err)
	}

	for _, f := range featureFlags {
		if err := cfg.Store.WriteInt(cfg.BackendPath+"/"+f.key, f.val); err != nil {
			st.Close()
			return nil, fmt.Errorf("frontend: publish %s: %w", f.key, err)
		}
	}
	if err := cfg.Store.WriteInt(cfg.BackendPath+"/sectors", int64(st.SectorCount())); err != nil {
		st.Close()
		return nil, fmt.Errorf("frontend: publish sectors: %w", err)
	}
	if err := cfg.Store.WriteInt(cfg.BackendPath+"/info", 0); err != nil {
		st.Close()
		return nil, fmt.Errorf("frontend: publish info: %w", err)
	}

	capacity := cfg.GrantCacheCapacity
	cache := grantcache.New(cfg.Mapper, capacity, log)
	ring := ringio.NewMem() // sized conceptually as blkif.ConstRingSize(blkif.PageSize); backed by an unbounded slice here
	eng := engine.New(ring, cache, st, cfg.Notify, log)

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return eng.Run(gctx) })

	log.WithField("sectors", st.SectorCount()).Info("frontend: bound")

	return &Handler{
		cfg: cfg, store: st, cache: cache, ring: ring, eng: eng,
		cancel: cancel, g: g, log: log,
	}, nil
}

// stripOneQuotePair removes exactly one leading and trailing single
// quote, if both are present. Unlike strings.Trim, which would strip an
// unbounded run of quote characters, this strips at most one pair --
// params is never recursively quoted.
func stripOneQuotePair(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") {
		return s[1 : len(s)-1]
	}
	return s
}

// Close cancels the Engine, waits for it to drain, then drops the ring
// (and with it the Grant Cache, unmapping every resident grant) before
// closing the Image Store -- the same order the ring->cache->image
// dependency chain requires on bind, reversed.
func (h *Handler) Close() error {
	h.cancel()
	if err := h.g.Wait(); err != nil && err != context.Canceled {
		h.log.WithError(err).Warn("frontend: engine exited with error")
	}

	var firstErr error
	if err := h.cache.Close(); err != nil {
		firstErr = fmt.Errorf("frontend: grant cache close: %w", err)
	}
	if err := h.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("frontend: image close: %w", err)
	}
	h.log.Info("frontend: closed")
	return firstErr
}
