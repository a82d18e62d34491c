// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package tablet

import (
	"sort"
	"time"

	"github.com/tabletdb/tabletdb/pkg/util/metric"
	"github.com/tabletdb/tabletdb/pkg/util/syncutil"
	"github.com/tabletdb/tabletdb/pkg/util/timeutil"
)

// OperationTracker keeps the set of operations between submission and their
// replication outcome. Shutdown uses it to wait for quiescence; status pages
// use it to list in-flight work.
type OperationTracker struct {
	gauge *metric.Gauge

	mu struct {
		syncutil.Mutex
		ops     map[*WriteOperation]struct{}
		waiters []chan struct{}
	}
}

// NewOperationTracker creates a tracker. gauge may be nil.
func NewOperationTracker(gauge *metric.Gauge) *OperationTracker {
	t := &OperationTracker{gauge: gauge}
	t.mu.ops = make(map[*WriteOperation]struct{})
	return t
}

// Add registers an in-flight operation.
func (t *OperationTracker) Add(op *WriteOperation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mu.ops[op] = struct{}{}
	if t.gauge != nil {
		t.gauge.Inc(1)
	}
}

// Release removes an operation. Releasing the last one wakes WaitForZero
// callers.
func (t *OperationTracker) Release(op *WriteOperation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.mu.ops, op)
	if t.gauge != nil {
		t.gauge.Dec(1)
	}
	if len(t.mu.ops) == 0 {
		for _, ch := range t.mu.waiters {
			close(ch)
		}
		t.mu.waiters = nil
	}
}

// Count returns the number of in-flight operations.
func (t *OperationTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.mu.ops)
}

// InFlight returns a snapshot of the in-flight operations, ordered by
// hybrid time.
func (t *OperationTracker) InFlight() []*WriteOperation {
	t.mu.Lock()
	ops := make([]*WriteOperation, 0, len(t.mu.ops))
	for op := range t.mu.ops {
		ops = append(ops, op)
	}
	t.mu.Unlock()
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].HybridTime.Less(ops[j].HybridTime)
	})
	return ops
}

// WaitForZero blocks until no operations are in flight or the deadline
// passes, reporting whether the tracker drained in time.
func (t *OperationTracker) WaitForZero(deadline time.Time) bool {
	t.mu.Lock()
	if len(t.mu.ops) == 0 {
		t.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	t.mu.waiters = append(t.mu.waiters, ch)
	t.mu.Unlock()

	var timer timeutil.Timer
	defer timer.Stop()
	timer.Reset(timeutil.Until(deadline))
	select {
	case <-ch:
		return true
	case <-timer.C:
		timer.Read = true
		return false
	}
}
