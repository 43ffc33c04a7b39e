// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package image

import "golang.org/x/sys/unix"

// punchHole best-effort deallocates [off, off+n) in the backing file.
// Failure is not propagated: the memset in Discard already satisfies
// the zero-read-back contract, this is purely a space-reclaim hint.
// Modeled on nodefs/files_linux.go's use of syscall.Fallocate.
func (s *Store) punchHole(off, n int64) {
	mode := unix.FALLOC_FL_PUNCH_HOLE | unix.FALLOC_FL_KEEP_SIZE
	_ = unix.Fallocate(int(s.f.Fd()), uint32(mode), off, n)
}
