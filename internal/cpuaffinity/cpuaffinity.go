// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cpuaffinity pins the calling process to a single CPU,
// reducing cross-core cache traffic for grant mappings touched by
// every frontend's serial worker. Grounded on golang.org/x/sys/unix's
// SchedSetaffinity, used the same way vhostuser/deviceregion.go reaches
// into golang.org/x/sys/unix for platform-specific memory calls.
package cpuaffinity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// HighestOnline returns the highest-numbered CPU the calling process is
// currently permitted to run on, the default affinity target when none
// is specified on the command line.
func HighestOnline() (int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, fmt.Errorf("cpuaffinity: get affinity: %w", err)
	}
	highest := -1
	for cpu := 0; cpu < len(set)*64; cpu++ {
		if set.IsSet(cpu) {
			highest = cpu
		}
	}
	if highest < 0 {
		return 0, fmt.Errorf("cpuaffinity: no CPUs reported online")
	}
	return highest, nil
}

// Pin restricts the calling process to a single CPU.
func Pin(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("cpuaffinity: pin to cpu %d: %w", cpu, err)
	}
	return nil
}
