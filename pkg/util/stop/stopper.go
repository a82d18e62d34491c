// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package stop

import (
	"context"
	"sync"

	"github.com/tabletdb/tabletdb/pkg/util/syncutil"
)

// A Stopper provides control over the lifecycle of a set of workers. Workers
// are long-lived goroutines registered via RunWorker; they are expected to
// watch ShouldQuiesce and exit when it fires. Stop closes the quiesce
// channel and blocks until every worker has returned.
type Stopper struct {
	quiescer chan struct{}
	workers  sync.WaitGroup

	mu struct {
		syncutil.Mutex
		quiescing bool
	}
}

// NewStopper returns a Stopper ready to run workers.
func NewStopper() *Stopper {
	return &Stopper{
		quiescer: make(chan struct{}),
	}
}

// RunWorker runs f in a goroutine tracked by the Stopper. f should exit when
// ShouldQuiesce is closed. If the Stopper has already been stopped, f is not
// run.
func (s *Stopper) RunWorker(ctx context.Context, f func(context.Context)) {
	s.mu.Lock()
	if s.mu.quiescing {
		s.mu.Unlock()
		return
	}
	s.workers.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.workers.Done()
		f(ctx)
	}()
}

// ShouldQuiesce returns a channel that is closed when Stop is called.
// Workers select on this channel to learn that they should exit.
func (s *Stopper) ShouldQuiesce() <-chan struct{} {
	return s.quiescer
}

// Stop signals all workers to quiesce and waits for them to exit. It is
// idempotent and safe to call from multiple goroutines.
func (s *Stopper) Stop() {
	s.mu.Lock()
	if !s.mu.quiescing {
		s.mu.quiescing = true
		close(s.quiescer)
	}
	s.mu.Unlock()
	s.workers.Wait()
}
