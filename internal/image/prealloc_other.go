// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !freebsd

package image

import "os"

// preallocate is a no-op outside FreeBSD: the image is left as the
// sparse file Truncate produces, with no disk space reserved up front.
func preallocate(f *os.File, size int64) error { return nil }
