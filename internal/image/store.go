// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package image implements the Image Store: a memory-mapped view over a
// regular file, fixed 512-byte sector size, exposing sector-addressed
// byte-range read/write/discard and a flush primitive. Modeled on
// vhostuser/deviceregion.go's mmap/madvise use for backend-owned memory
// regions and on the sector arithmetic of a reference C++ disk-image
// implementation.
package image

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/openxt-go/us-blkback/internal/openat"
)

// SectorSize is fixed at 512 bytes; the image file format is raw
// sectors with no header.
const SectorSize = 512

// maxSectorCount guards against 31-bit signed overflow downstream:
// sector numbers flow through int32-sized fields on some platforms'
// ring structures.
const maxSectorCount = 1<<31 - 1

var (
	// ErrBadImage is returned by Open when the backing file's size is
	// zero, not a multiple of SectorSize, or exceeds the addressable
	// sector range.
	ErrBadImage = errors.New("image: bad backing file")

	// ErrOutOfRange is returned by Read/Write/Discard when the
	// requested sector range falls outside the image.
	ErrOutOfRange = errors.New("image: sector range out of bounds")
)

// Store is a memory-mapped disk image. It has no internal locking: the
// owning frontend's single engine worker serializes access.
type Store struct {
	f    *os.File
	data []byte

	sectorCount uint64
}

// Open memory-maps path read/write shared and records its sector count.
// path is opened with symlink resolution disabled on the final
// component: the path comes from a frontend-controlled configuration
// value (params), so a malicious frontend pointing it at a symlink
// should not cause us to map whatever the link resolves to.
func Open(path string) (*Store, error) {
	fd, err := openat.OpenatNofollow(unix.AT_FDCWD, path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("image: open %s: %w", path, err)
	}
	f := os.NewFile(uintptr(fd), path)

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("image: stat %s: %w", path, err)
	}

	size := st.Size()
	if size == 0 || size%SectorSize != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %s: size %d not a positive multiple of %d", ErrBadImage, path, size, SectorSize)
	}

	sectorCount := uint64(size) / SectorSize
	if sectorCount > maxSectorCount {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %d sectors exceeds addressable range", ErrBadImage, path, sectorCount)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("image: mmap %s: %w", path, err)
	}
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)

	return &Store{f: f, data: data, sectorCount: sectorCount}, nil
}

// CreateBackingFile zero-fills a new raw image file of num_sectors *
// sectorSize bytes, useful for provisioning a new image before a
// frontend ever binds to it.
func CreateBackingFile(path string, numSectors, sectorSize uint64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("image: create %s: %w", path, err)
	}
	defer f.Close()

	size := int64(numSectors * sectorSize)
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("image: truncate %s: %w", path, err)
	}
	if err := preallocate(f, size); err != nil {
		return fmt.Errorf("image: preallocate %s: %w", path, err)
	}
	return nil
}

// SectorCount returns the number of SectorSize-byte sectors in the
// image.
func (s *Store) SectorCount() uint64 {
	return s.sectorCount
}

func (s *Store) checkRange(start, nr uint64) error {
	if start+nr > s.sectorCount {
		return fmt.Errorf("%w: start=%d nr=%d count=%d", ErrOutOfRange, start, nr, s.sectorCount)
	}
	return nil
}

// Read copies nrSectors*SectorSize bytes from the mapping at sector
// `start` into out, which must be at least that long.
func (s *Store) Read(start, nrSectors uint64, out []byte) error {
	if err := s.checkRange(start, nrSectors); err != nil {
		return err
	}
	n := nrSectors * SectorSize
	off := start * SectorSize
	copy(out[:n], s.data[off:off+n])
	return nil
}

// Write copies in[:nrSectors*SectorSize] into the mapping at sector
// `start`.
func (s *Store) Write(start, nrSectors uint64, in []byte) error {
	if err := s.checkRange(start, nrSectors); err != nil {
		return err
	}
	n := nrSectors * SectorSize
	off := start * SectorSize
	copy(s.data[off:off+n], in[:n])
	return nil
}

// Discard zero-fills [start, start+nrSectors) and, on Linux, also asks
// the filesystem to punch a hole over the same range so the backing
// store can reclaim the space; the zero-fill guarantees the read-back
// contract regardless of whether the filesystem actually supports hole
// punching.
func (s *Store) Discard(start, nrSectors uint64) error {
	if err := s.checkRange(start, nrSectors); err != nil {
		return err
	}
	n := nrSectors * SectorSize
	off := start * SectorSize
	region := s.data[off : off+n]
	for i := range region {
		region[i] = 0
	}
	s.punchHole(int64(off), int64(n))
	return nil
}

// Flush synchronously persists dirty mapped pages to the backing file.
func (s *Store) Flush() error {
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("image: msync: %w", err)
	}
	return nil
}

// Close flushes, unmaps, and closes the backing file, in that order:
// dirty pages must reach disk before the mapping goes away.
func (s *Store) Close() error {
	flushErr := s.Flush()
	if err := unix.Munmap(s.data); err != nil && flushErr == nil {
		flushErr = fmt.Errorf("image: munmap: %w", err)
	}
	if err := s.f.Close(); err != nil && flushErr == nil {
		flushErr = err
	}
	return flushErr
}
