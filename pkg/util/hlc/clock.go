// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package hlc

import (
	"sync/atomic"

	"github.com/tabletdb/tabletdb/pkg/util/syncutil"
	"github.com/tabletdb/tabletdb/pkg/util/timeutil"
)

// Clock is the time source consumed by the MVCC machinery.
//
// Now must be strictly increasing across successive calls on one instance:
// two calls never observe the same value. Update raises the clock so that
// subsequent Now results exceed the given timestamp; it is a no-op if the
// clock is already ahead.
//
// Implementations must be safe for concurrent use.
type Clock interface {
	Now() HybridTime
	Update(t HybridTime)
}

// HybridClock is a Clock backed by the wall clock. The physical component
// tracks wall-clock microseconds; the logical component breaks ties when the
// wall clock has not advanced past the last handed-out timestamp, which also
// absorbs wall-clock regressions.
type HybridClock struct {
	mu struct {
		syncutil.Mutex
		last HybridTime
	}
}

var _ Clock = (*HybridClock)(nil)

// NewHybridClock returns a HybridClock starting at the current wall time.
func NewHybridClock() *HybridClock {
	return &HybridClock{}
}

// Now implements Clock. The returned value is strictly greater than any
// previously returned or Update'd value.
func (c *HybridClock) Now() HybridTime {
	physical := HybridTime(timeutil.Now().UnixMicro() << LogicalBits)
	c.mu.Lock()
	defer c.mu.Unlock()
	if physical > c.mu.last {
		c.mu.last = physical
	} else {
		c.mu.last++
	}
	return c.mu.last
}

// Update implements Clock.
func (c *HybridClock) Update(t HybridTime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.mu.last {
		c.mu.last = t
	}
}

// LogicalClock is a Clock detached from physical time: every Now call
// advances an internal counter by one logical unit. Intended for tests and
// deterministic simulations.
type LogicalClock struct {
	now atomic.Uint64
}

var _ Clock = (*LogicalClock)(nil)

// NewLogicalClock returns a LogicalClock whose first Now result is
// start.Incremented().
func NewLogicalClock(start HybridTime) *LogicalClock {
	c := &LogicalClock{}
	c.now.Store(uint64(start))
	return c
}

// Now implements Clock.
func (c *LogicalClock) Now() HybridTime {
	return HybridTime(c.now.Add(1))
}

// Peek returns the clock's current value (the timestamp most recently
// handed out by Now, or set by Update or the constructor), without
// advancing the clock.
func (c *LogicalClock) Peek() HybridTime {
	return HybridTime(c.now.Load())
}

// Update implements Clock.
func (c *LogicalClock) Update(t HybridTime) {
	for {
		cur := c.now.Load()
		if uint64(t) <= cur || c.now.CompareAndSwap(cur, uint64(t)) {
			return
		}
	}
}
