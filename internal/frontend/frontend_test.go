// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frontend

import (
	"context"
	"testing"

	"github.com/openxt-go/us-blkback/internal/blkif"
	"github.com/openxt-go/us-blkback/internal/evtchn"
	"github.com/openxt-go/us-blkback/internal/grantmap"
	"github.com/openxt-go/us-blkback/internal/image"
	"github.com/openxt-go/us-blkback/internal/xenstore"
)

func seededStore(t *testing.T, imgPath string) *xenstore.Memory {
	t.Helper()
	return xenstore.NewMemory(map[string]string{
		"/local/domain/7/device/vbd/51712/event-channel": "9",
		"/local/domain/7/device/vbd/51712/ring-ref":       "42",
		"/local/domain/0/backend/vbd/7/51712/params":      "'" + imgPath + "'",
	})
}

func TestBindPublishesFeatureFlagsAndOpensImage(t *testing.T) {
	imgPath := t.TempDir() + "/disk.img"
	if err := image.CreateBackingFile(imgPath, 100, image.SectorSize); err != nil {
		t.Fatal(err)
	}
	store := seededStore(t, imgPath)

	cfg := Config{
		FrontendPath: "/local/domain/7/device/vbd/51712",
		BackendPath:  "/local/domain/0/backend/vbd/7/51712",
		Store:        store,
		Mapper:       grantmap.NewAnon(blkif.PageSize),
		Notify:       evtchn.NewChan(),
	}
	h, err := Bind(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	sectors, err := store.ReadInt(cfg.BackendPath + "/sectors")
	if err != nil {
		t.Fatal(err)
	}
	if sectors != 100 {
		t.Fatalf("published sectors = %d, want 100", sectors)
	}
	persistent, err := store.ReadInt(cfg.BackendPath + "/feature-persistent")
	if err != nil {
		t.Fatal(err)
	}
	if persistent != 1 {
		t.Fatalf("feature-persistent = %d, want 1", persistent)
	}
	maxIndirect, err := store.ReadInt(cfg.BackendPath + "/feature-max-indirect-segments")
	if err != nil {
		t.Fatal(err)
	}
	if maxIndirect != blkif.MaxIndirectSegments {
		t.Fatalf("feature-max-indirect-segments = %d, want %d", maxIndirect, blkif.MaxIndirectSegments)
	}
}

func TestBindStripsOneQuotePair(t *testing.T) {
	if got := stripOneQuotePair("'/dev/img'"); got != "/dev/img" {
		t.Fatalf("stripOneQuotePair = %q, want %q", got, "/dev/img")
	}
	if got := stripOneQuotePair("/dev/img"); got != "/dev/img" {
		t.Fatalf("stripOneQuotePair unquoted = %q, want unchanged", got)
	}
	if got := stripOneQuotePair("''/dev/img''"); got != "'/dev/img'" {
		t.Fatalf("stripOneQuotePair double-quoted = %q, want single pair stripped only", got)
	}
}

func TestBindMissingRingRefFails(t *testing.T) {
	store := xenstore.NewMemory(map[string]string{
		"/local/domain/7/device/vbd/51712/event-channel": "9",
	})
	cfg := Config{
		FrontendPath: "/local/domain/7/device/vbd/51712",
		BackendPath:  "/local/domain/0/backend/vbd/7/51712",
		Store:        store,
		Mapper:       grantmap.NewAnon(blkif.PageSize),
		Notify:       evtchn.NewChan(),
	}
	if _, err := Bind(context.Background(), cfg, nil); err == nil {
		t.Fatal("Bind with missing ring-ref: want error, got nil")
	}
}
