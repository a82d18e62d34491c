// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package mvcc maintains the multi-version concurrency control state of a
// tablet replica: the set of in-flight write operations identified by hybrid
// timestamps, and the monotonically advancing safe time under which snapshot
// reads may proceed.
package mvcc

import (
	"container/heap"
	"context"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/tabletdb/tabletdb/pkg/util/hlc"
	"github.com/tabletdb/tabletdb/pkg/util/log"
	"github.com/tabletdb/tabletdb/pkg/util/syncutil"
	"github.com/tabletdb/tabletdb/pkg/util/timeutil"
)

// Manager reconciles three independent time sources: the hybrid clock, the
// lease horizon bounding leader authority, and the set of pending
// operations. It guarantees that once a safe time has been returned on the
// leader path, no operation will ever be assigned a timestamp at or below
// it.
//
// All methods are safe for concurrent use. A single mutex protects the
// entire state; only SafeTime and SafeTimeForFollower block, and only while
// the current safe time is below the caller's required bound.
//
// The clock is borrowed and must outlive the Manager.
type Manager struct {
	clock hlc.Clock
	// ambientCtx carries the tablet tag for log output.
	ambientCtx context.Context

	mu struct {
		syncutil.Mutex
		// queue is a min-heap of pending operations; index maps a
		// timestamp to its heap entry for random removal.
		queue pendingHeap
		index map[hlc.HybridTime]*pendingItem
		// seq numbers insertions into the queue.
		seq uint64
		// maxIssued is the largest timestamp ever placed in the queue.
		maxIssued hlc.HybridTime
		// lastReplicated only ever increases.
		lastReplicated hlc.HybridTime
		// propagatedSafeTime is the leader's last announced safe time,
		// delivered via replication heartbeats. Only consulted on the
		// follower path.
		propagatedSafeTime hlc.HybridTime
		// maxSafeTimeReturnedForFollower keeps the follower-path result
		// monotonic even when propagatedSafeTime arrives out of order.
		maxSafeTimeReturnedForFollower hlc.HybridTime
		waiters                        []*waiter
	}
}

// NewManager creates a Manager for the tablet identified by prefix, drawing
// timestamps from clock.
func NewManager(prefix string, clock hlc.Clock) *Manager {
	m := &Manager{
		clock:      clock,
		ambientCtx: logtags.AddTag(context.Background(), "mvcc", prefix),
	}
	m.mu.index = make(map[hlc.HybridTime]*pendingItem)
	m.mu.lastReplicated = hlc.Min
	m.mu.propagatedSafeTime = hlc.Min
	m.mu.maxSafeTimeReturnedForFollower = hlc.Min
	return m
}

// AddPending registers an in-flight operation.
//
// If *ht is hlc.Min the manager is running on the leader and assigns a fresh
// timestamp, strictly greater than the last replicated timestamp, every
// outstanding pending timestamp, and every safe time ever returned on the
// leader path. The clock is then advanced so future reads of it will not be
// smaller.
//
// Otherwise the caller is a follower (or is replaying a log) and the preset
// value is honored. A preset timestamp not newer than the last replicated
// one, or a duplicate insertion, indicates a bug in the replication layer
// and terminates the process.
func (m *Manager) AddPending(ht *hlc.HybridTime) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if *ht == hlc.Min {
		assigned := m.clock.Now()
		if next := m.mu.lastReplicated.Incremented(); assigned.Less(next) {
			assigned = next
		}
		if m.mu.maxIssued != hlc.Min {
			if next := m.mu.maxIssued.Incremented(); assigned.Less(next) {
				assigned = next
			}
		}
		m.clock.Update(assigned)
		*ht = assigned
	} else if ht.LessEq(m.mu.lastReplicated) {
		log.Fatalf(m.ambientCtx,
			"attempt to add a pending operation at %s, not newer than the last replicated hybrid time %s",
			*ht, m.mu.lastReplicated)
	}

	if _, ok := m.mu.index[*ht]; ok {
		log.Fatalf(m.ambientCtx, "duplicate pending operation at %s", *ht)
	}
	m.mu.seq++
	item := &pendingItem{ht: *ht, seq: m.mu.seq}
	heap.Push(&m.mu.queue, item)
	m.mu.index[*ht] = item
	if m.mu.maxIssued.Less(*ht) {
		m.mu.maxIssued = *ht
	}
}

// Replicated marks the pending operation at ht as durably committed by the
// consensus layer and advances the last replicated timestamp to ht. The
// last replicated timestamp is never rolled back when an older operation is
// still pending.
func (m *Manager) Replicated(ht hlc.HybridTime) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ht.LessEq(m.mu.lastReplicated) {
		log.Fatalf(m.ambientCtx,
			"replicated at %s, not newer than the last replicated hybrid time %s",
			ht, m.mu.lastReplicated)
	}
	m.removeLocked(ht, "replicated")
	m.mu.lastReplicated = ht
	m.wakeWaitersLocked()
}

// Aborted removes the pending operation at ht without advancing the last
// replicated timestamp. Any pending entry may be aborted, not only the
// oldest one; safe time advances only when the oldest entry is removed.
func (m *Manager) Aborted(ht hlc.HybridTime) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(ht, "aborted")
	m.wakeWaitersLocked()
}

func (m *Manager) removeLocked(ht hlc.HybridTime, op string) {
	item, ok := m.mu.index[ht]
	if !ok {
		log.Fatalf(m.ambientCtx, "%s operation at %s is not pending", op, ht)
	}
	heap.Remove(&m.mu.queue, item.index)
	delete(m.mu.index, ht)
}

// SafeTime returns the maximum timestamp t such that no future operation
// will be committed at or below t, capped by the lease horizon htLease. It
// blocks until the result reaches required or the deadline passes; in the
// latter case it returns (hlc.Invalid, false) with no state change.
//
// For a fixed lease horizon the returned value is monotonically
// non-decreasing.
func (m *Manager) SafeTime(
	required hlc.HybridTime, deadline time.Time, htLease hlc.HybridTime,
) (hlc.HybridTime, bool) {
	return m.waitForSafeTime(required, deadline, htLease, false /* follower */)
}

// SafeTimeForRead is the non-blocking form of SafeTime: the wait condition
// is trivially satisfied, so a value is always returned immediately.
func (m *Manager) SafeTimeForRead(htLease hlc.HybridTime) hlc.HybridTime {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaderSafeTimeLocked(htLease)
}

// SafeTimeForFollower computes the safe time on a follower, where authority
// flows from the leader: the result is capped by the propagated safe time
// instead of a lease horizon, and is monotonic even if the propagated safe
// time dips due to out-of-order delivery. Blocks like SafeTime.
func (m *Manager) SafeTimeForFollower(
	required hlc.HybridTime, deadline time.Time,
) (hlc.HybridTime, bool) {
	return m.waitForSafeTime(required, deadline, hlc.Invalid, true /* follower */)
}

func (m *Manager) waitForSafeTime(
	required hlc.HybridTime, deadline time.Time, htLease hlc.HybridTime, follower bool,
) (hlc.HybridTime, bool) {
	var t timeutil.Timer
	defer t.Stop()
	for {
		m.mu.Lock()
		var safe hlc.HybridTime
		if follower {
			safe = m.followerSafeTimeLocked()
		} else {
			safe = m.leaderSafeTimeLocked(htLease)
		}
		if required.LessEq(safe) {
			m.mu.Unlock()
			return safe, true
		}
		if !timeutil.Now().Before(deadline) {
			m.mu.Unlock()
			return hlc.Invalid, false
		}
		w := &waiter{required: required, ch: make(chan struct{}, 1)}
		m.mu.waiters = append(m.mu.waiters, w)
		m.mu.Unlock()

		t.Reset(timeutil.Until(deadline))
		select {
		case <-w.ch:
		case <-t.C:
			t.Read = true
		}
		m.removeWaiter(w)
	}
}

// leaderSafeTimeLocked computes the leader-path safe time. With no pending
// operations the clock synthesizes a value; the clock's Now is strictly
// increasing, so every timestamp assigned later exceeds anything returned
// here.
func (m *Manager) leaderSafeTimeLocked(htLease hlc.HybridTime) hlc.HybridTime {
	var raw hlc.HybridTime
	if m.mu.queue.Len() == 0 {
		raw = hlc.MaxHybridTime(m.clock.Now(), m.mu.lastReplicated)
	} else {
		raw = m.mu.queue[0].ht.Decremented()
	}
	return hlc.MinHybridTime(raw, htLease)
}

func (m *Manager) followerSafeTimeLocked() hlc.HybridTime {
	var raw hlc.HybridTime
	if m.mu.queue.Len() == 0 {
		raw = m.mu.lastReplicated
	} else {
		raw = m.mu.queue[0].ht.Decremented()
	}
	candidate := hlc.MinHybridTime(raw, m.mu.propagatedSafeTime)
	if m.mu.maxSafeTimeReturnedForFollower.Less(candidate) {
		m.mu.maxSafeTimeReturnedForFollower = candidate
	}
	return m.mu.maxSafeTimeReturnedForFollower
}

// LastReplicatedHybridTime returns the timestamp of the most recently
// replicated operation.
func (m *Manager) LastReplicatedHybridTime() hlc.HybridTime {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.lastReplicated
}

// SetPropagatedSafeTime records a safe time announced by the leader. Stale
// announcements (below the current propagated safe time) are ignored.
func (m *Manager) SetPropagatedSafeTime(ht hlc.HybridTime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mu.propagatedSafeTime.Less(ht) {
		m.mu.propagatedSafeTime = ht
		m.wakeWaitersLocked()
	}
}

// PendingCount returns the number of in-flight operations.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.queue.Len()
}

// wakeWaitersLocked is called after any state change that could raise the
// safe time. A woken waiter re-evaluates its predicate under its own lease
// horizon, so spurious wakes are harmless; waiters whose requirement cannot
// be met while the oldest pending operation is still in flight are left
// sleeping.
func (m *Manager) wakeWaitersLocked() {
	bound := hlc.Max
	if m.mu.queue.Len() > 0 {
		// On either path the safe time cannot exceed the predecessor of
		// the oldest pending timestamp.
		bound = m.mu.queue[0].ht.Decremented()
	}
	for _, w := range m.mu.waiters {
		if bound.Less(w.required) {
			continue
		}
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
}

func (m *Manager) removeWaiter(w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, other := range m.mu.waiters {
		if other == w {
			last := len(m.mu.waiters) - 1
			m.mu.waiters[i] = m.mu.waiters[last]
			m.mu.waiters[last] = nil
			m.mu.waiters = m.mu.waiters[:last]
			return
		}
	}
}

// waiter is a blocked SafeTime call. It is signaled, at most once per
// registration, whenever the safe time may have advanced.
type waiter struct {
	required hlc.HybridTime
	ch       chan struct{}
}

// pendingItem is an in-flight operation. Each item maintains its heap
// index, so random deletes are supported.
type pendingItem struct {
	ht  hlc.HybridTime
	seq uint64
	// This item's index in the heap.
	index int
}

type pendingHeap []*pendingItem

var _ heap.Interface = (*pendingHeap)(nil)

// Less is part of heap.Interface. Timestamps are unique within a manager;
// the insertion sequence settles the order if that is ever relaxed.
func (h pendingHeap) Less(i, j int) bool {
	if h[i].ht != h[j].ht {
		return h[i].ht.Less(h[j].ht)
	}
	return h[i].seq < h[j].seq
}

// Swap is part of heap.Interface.
func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

// Push is part of heap.Interface.
func (h *pendingHeap) Push(x interface{}) {
	item := x.(*pendingItem)
	item.index = len(*h)
	*h = append(*h, item)
}

// Pop is part of heap.Interface.
func (h *pendingHeap) Pop() interface{} {
	it := (*h)[len(*h)-1]
	// Poison the removed element, for safety.
	it.index = -1
	*h = (*h)[:len(*h)-1]
	return it
}

// Len is part of heap.Interface.
func (h *pendingHeap) Len() int {
	return len(*h)
}
