// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package image

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes of real disk space for f via
// posix_fallocate, so a freshly created image doesn't fail a later
// write with ENOSPC on a thin filesystem. FreeBSD has no
// FALLOC_FL_PUNCH_HOLE equivalent reachable this way, so this syscall
// is only useful here for up-front reservation, not for Discard's
// hole-punching.
func preallocate(f *os.File, size int64) error {
	_, _, errno := unix.Syscall(unix.SYS_POSIX_FALLOCATE, uintptr(f.Fd()), 0, uintptr(size))
	if errno != 0 {
		return errno
	}
	return nil
}
