// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package supervisor implements the Backend Supervisor: the
// admit/refuse gate over new frontends and the lifecycle owner for
// every bound Frontend Handler. Modeled on vhostuser/util.go's accept
// loop, generalized from one listener accepting connections to one
// hypervisor-store watch admitting frontends.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/openxt-go/us-blkback/internal/frontend"
)

// MaxFrontends bounds the number of concurrently bound frontends this
// backend serves, per the static MAX_PGRANTS / per-frontend-capacity
// budget.
const MaxFrontends = 8

// ErrTooManyFrontends is returned by Admit when the live frontend count
// is already at MaxFrontends.
var ErrTooManyFrontends = fmt.Errorf("supervisor: frontend count at cap (%d)", MaxFrontends)

// Supervisor tracks the live set of bound frontends and enforces the
// concurrent cap. frontendCount reflects frontends currently bound --
// it is decremented on close, making the cap a live limit rather than a
// cumulative lifetime counter.
type Supervisor struct {
	mu            sync.Mutex
	frontendCount int32
	handlers      map[string]*frontend.Handler

	log *logrus.Entry
}

// New constructs an empty Supervisor.
func New(log *logrus.Entry) *Supervisor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Supervisor{handlers: make(map[string]*frontend.Handler), log: log}
}

// Admit binds a new frontend if the live count is below MaxFrontends,
// admitting and incrementing the count atomically together under the
// Supervisor's lock -- the one piece of shared mutable state this
// backend touches outside a single frontend's serial worker.
func (s *Supervisor) Admit(ctx context.Context, cfg frontend.Config, log *logrus.Entry) error {
	s.mu.Lock()
	if s.frontendCount >= MaxFrontends {
		s.mu.Unlock()
		s.log.WithField("frontend", cfg.FrontendPath).Warn("supervisor: refusing new frontend, at cap")
		return ErrTooManyFrontends
	}
	s.frontendCount++
	s.mu.Unlock()

	h, err := frontend.Bind(ctx, cfg, log)
	if err != nil {
		s.mu.Lock()
		s.frontendCount--
		s.mu.Unlock()
		return fmt.Errorf("supervisor: bind %s: %w", cfg.FrontendPath, err)
	}

	s.mu.Lock()
	s.handlers[cfg.FrontendPath] = h
	s.mu.Unlock()
	return nil
}

// Close tears down one bound frontend by path and decrements the live
// count, restoring a free admission slot.
func (s *Supervisor) Close(path string) error {
	s.mu.Lock()
	h, ok := s.handlers[path]
	if ok {
		delete(s.handlers, path)
		s.frontendCount--
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("supervisor: no bound frontend at %s", path)
	}
	return h.Close()
}

// FrontendCount reports the number of frontends currently bound.
func (s *Supervisor) FrontendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.frontendCount)
}

// Stop tears down every bound frontend, used on process shutdown
// (SIGINT/SIGTERM). Errors from individual handlers are logged, not
// aggregated -- shutdown proceeds regardless.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	paths := make([]string, 0, len(s.handlers))
	for p := range s.handlers {
		paths = append(paths, p)
	}
	s.mu.Unlock()

	for _, p := range paths {
		if err := s.Close(p); err != nil {
			s.log.WithError(err).WithField("frontend", p).Warn("supervisor: close on shutdown")
		}
	}
}
