// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package mvcc

import (
	"math/rand"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/tabletdb/tabletdb/pkg/util/hlc"
	"github.com/tabletdb/tabletdb/pkg/util/timeutil"
	"golang.org/x/sync/errgroup"
)

func newTestManager() (*hlc.LogicalClock, *Manager) {
	clock := hlc.NewLogicalClock(hlc.Initial)
	return clock, NewManager("test-tablet", clock)
}

func farFuture() time.Time {
	return timeutil.Now().Add(24 * time.Hour)
}

func TestBasic(t *testing.T) {
	_, m := newTestManager()
	const totalEntries = 10
	hts := make([]hlc.HybridTime, totalEntries)
	for i := range hts {
		m.AddPending(&hts[i])
	}
	for i := 1; i < len(hts); i++ {
		require.True(t, hts[i-1].Less(hts[i]))
	}
	for _, ht := range hts {
		m.Replicated(ht)
		require.Equal(t, ht, m.LastReplicatedHybridTime())
	}
}

func TestSafeHybridTimeToReadAt(t *testing.T) {
	clock, m := newTestManager()
	const lease = 10
	const delta = 10
	htLease := clock.Now().AddLogical(lease)
	clock.Update(htLease.AddLogical(delta))
	require.Equal(t, htLease, m.SafeTimeForRead(htLease))

	ht1 := clock.Now()
	m.AddPending(&ht1)
	require.Equal(t, ht1.Decremented(), m.SafeTimeForRead(hlc.Max))

	var ht2 hlc.HybridTime
	m.AddPending(&ht2)
	require.True(t, ht1.Less(ht2))
	require.Equal(t, ht1.Decremented(), m.SafeTimeForRead(hlc.Max))

	m.Replicated(ht1)
	require.Equal(t, ht2.Decremented(), m.SafeTimeForRead(hlc.Max))

	m.Replicated(ht2)
	now := clock.Now()
	require.Equal(t, now, m.SafeTimeForRead(now))
}

func TestAbort(t *testing.T) {
	clock, m := newTestManager()
	const totalEntries = 10
	hts := make([]hlc.HybridTime, totalEntries)
	for i := range hts {
		m.AddPending(&hts[i])
	}
	for i := 1; i < len(hts); i += 2 {
		m.Aborted(hts[i])
	}
	for i := 0; i < len(hts); i += 2 {
		require.Equal(t, hts[i].Decremented(), m.SafeTimeForRead(hlc.Max))
		m.Replicated(hts[i])
	}
	now := clock.Now()
	require.Equal(t, now, m.SafeTimeForRead(now))
}

func TestWaitForSafeTime(t *testing.T) {
	clock, m := newTestManager()
	const lease = 10
	const delta = 10
	limit := clock.Now().AddLogical(lease)
	clock.Update(limit.AddLogical(delta))
	ht1 := clock.Now()
	m.AddPending(&ht1)
	var ht2 hlc.HybridTime
	m.AddPending(&ht2)

	var t1Done, t2Done atomic.Bool
	var g errgroup.Group
	g.Go(func() error {
		safe, ok := m.SafeTime(ht2.Decremented(), farFuture(), hlc.Max)
		if !ok || safe.Less(ht2.Decremented()) {
			return errors.Newf("wait for %s failed: %s, %t", ht2.Decremented(), safe, ok)
		}
		t1Done.Store(true)
		return nil
	})
	g.Go(func() error {
		safe, ok := m.SafeTime(ht2.AddLogical(1), farFuture(), hlc.Max)
		if !ok || safe.Less(ht2.AddLogical(1)) {
			return errors.Newf("wait for %s failed: %s, %t", ht2.AddLogical(1), safe, ok)
		}
		t2Done.Store(true)
		return nil
	})

	time.Sleep(100 * time.Millisecond)
	require.False(t, t1Done.Load())
	require.False(t, t2Done.Load())

	m.Replicated(ht1)
	time.Sleep(100 * time.Millisecond)
	require.True(t, t1Done.Load())
	require.False(t, t2Done.Load())

	m.Replicated(ht2)
	time.Sleep(100 * time.Millisecond)
	require.True(t, t1Done.Load())
	require.True(t, t2Done.Load())
	require.NoError(t, g.Wait())

	var ht3 hlc.HybridTime
	m.AddPending(&ht3)
	start := timeutil.Now()
	_, ok := m.SafeTime(ht3, timeutil.Now().Add(100*time.Millisecond), hlc.Max)
	require.False(t, ok)
	require.GreaterOrEqual(t, timeutil.Since(start), 100*time.Millisecond)
}

func TestSetPropagatedSafeTimeWakesWaiter(t *testing.T) {
	_, m := newTestManager()
	ht1 := hlc.Initial.AddLogical(100)
	m.AddPending(&ht1)
	m.Replicated(ht1)

	// With nothing pending, the follower safe time is the last replicated
	// timestamp capped by the propagated safe time, so ht1 is reachable only
	// once the propagated safe time catches up with it.
	required := ht1
	type result struct {
		safe hlc.HybridTime
		ok   bool
	}
	done := make(chan result, 1)
	go func() {
		safe, ok := m.SafeTimeForFollower(required, farFuture())
		done <- result{safe: safe, ok: ok}
	}()

	select {
	case <-done:
		t.Fatal("follower read returned before the propagated safe time advanced")
	case <-time.After(50 * time.Millisecond):
	}

	m.SetPropagatedSafeTime(ht1.AddLogical(10))
	select {
	case res := <-done:
		require.True(t, res.ok)
		require.True(t, required.LessEq(res.safe))
	case <-time.After(5 * time.Second):
		t.Fatal("follower read did not wake")
	}
}

func TestFollowerSafeTimeMonotonic(t *testing.T) {
	_, m := newTestManager()
	ht1 := hlc.Initial.AddLogical(100)
	m.AddPending(&ht1)
	m.Replicated(ht1)
	m.SetPropagatedSafeTime(ht1)

	followerSafeTime := func() hlc.HybridTime {
		safe, ok := m.SafeTimeForFollower(hlc.Min, farFuture())
		require.True(t, ok)
		return safe
	}

	require.Equal(t, ht1, followerSafeTime())

	ht2 := ht1.AddLogical(10)
	m.AddPending(&ht2)
	require.Equal(t, ht1, followerSafeTime())

	m.SetPropagatedSafeTime(ht1.AddLogical(5))
	require.Equal(t, ht1.AddLogical(5), followerSafeTime())

	// A stale propagated safe time must not drag the follower safe time
	// backwards.
	m.SetPropagatedSafeTime(ht1)
	require.Equal(t, ht1.AddLogical(5), followerSafeTime())

	m.Replicated(ht2)
	require.Equal(t, ht1.AddLogical(5), followerSafeTime())

	m.SetPropagatedSafeTime(ht2)
	require.Equal(t, ht2, followerSafeTime())
}

func TestRandomWithoutHTLease(t *testing.T) {
	runRandomizedTest(t, false /* useHTLease */)
}

func TestRandomWithHTLease(t *testing.T) {
	runRandomizedTest(t, true /* useHTLease */)
}

// runRandomizedTest drives a mixed add/replicate/abort workload at a target
// concurrency while a background goroutine continuously queries safe time,
// then replays the recorded operations with shifted timestamps as a
// follower receiving them from the leader.
func runRandomizedTest(t *testing.T, useHTLease bool) {
	const totalOperations = 20000
	const targetConcurrency = 50

	type opKind int
	const (
		opAdd opKind = iota
		opReplicated
		opAborted
	)
	type op struct {
		kind opKind
		ht   hlc.HybridTime
	}

	clock, m := newTestManager()
	rng := rand.New(rand.NewSource(20250805))

	var maxHTLease atomic.Uint64
	var isLeader atomic.Bool
	isLeader.Store(true)

	htLeaseProvider := func() hlc.HybridTime {
		if !useHTLease {
			return hlc.Max
		}
		// rand is used here rather than rng because the provider is also
		// invoked from the background goroutine.
		htLease := clock.Peek().AddMicros(rand.Int63n(51))
		for {
			cur := maxHTLease.Load()
			if uint64(htLease) <= cur || maxHTLease.CompareAndSwap(cur, uint64(htLease)) {
				break
			}
		}
		return htLease
	}

	stopped := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		for {
			select {
			case <-stopped:
				return nil
			default:
			}
			if isLeader.Load() {
				m.SafeTime(hlc.Min, farFuture(), htLeaseProvider())
			} else {
				m.SafeTimeForFollower(hlc.Min, farFuture())
			}
			runtime.Gosched()
		}
	})
	defer func() {
		close(stopped)
		require.NoError(t, g.Wait())
	}()

	var alive []hlc.HybridTime
	ops := make([]op, 0, 2*totalOperations)
	var counts [3]int

	minAliveIndex := func() int {
		minIdx := 0
		for i, ht := range alive {
			if ht.Less(alive[minIdx]) {
				minIdx = i
			}
		}
		return minIdx
	}

	for i := 0; i < totalOperations || len(alive) > 0; i++ {
		var rnd int
		if totalOperations-i <= len(alive) {
			// Only finishing moves are left.
			rnd = targetConcurrency + rng.Intn(2)
		} else {
			rnd = rng.Intn(2*targetConcurrency) - targetConcurrency +
				minInt(targetConcurrency, len(alive))
		}
		if rnd < targetConcurrency {
			// Start a new operation.
			var ht hlc.HybridTime
			m.AddPending(&ht)
			alive = append(alive, ht)
			ops = append(ops, op{kind: opAdd, ht: ht})
		} else {
			var idx int
			if rnd&1 == 1 {
				// Finish replication for the oldest operation.
				idx = minAliveIndex()
				ops = append(ops, op{kind: opReplicated, ht: alive[idx]})
				m.Replicated(alive[idx])
			} else {
				// Abort a random operation that is alive.
				idx = rng.Intn(len(alive))
				ops = append(ops, op{kind: opAborted, ht: alive[idx]})
				m.Aborted(alive[idx])
			}
			alive[idx] = alive[len(alive)-1]
			alive = alive[:len(alive)-1]
		}
		counts[ops[len(ops)-1].kind]++

		var safeTime hlc.HybridTime
		if len(alive) == 0 {
			timeBefore := clock.Now()
			safeTime = m.SafeTimeForRead(htLeaseProvider())
			timeAfter := clock.Now()
			require.True(t, timeBefore.LessEq(safeTime))
			require.True(t, safeTime.LessEq(timeAfter))
		} else {
			minPending := alive[minAliveIndex()]
			safeTime = m.SafeTimeForRead(htLeaseProvider())
			require.Equal(t, minPending.Decremented(), safeTime)
		}
		if useHTLease {
			require.LessOrEqual(t, uint64(safeTime), maxHTLease.Load())
		}
	}

	t.Logf("adds: %d, replicates: %d, aborts: %d",
		counts[opAdd], counts[opReplicated], counts[opAborted])
	replicatedAndAborted := counts[opReplicated] + counts[opAborted]
	require.Equal(t, totalOperations, counts[opAdd]+replicatedAndAborted)
	require.Equal(t, counts[opAdd], replicatedAndAborted)
	require.Zero(t, m.PendingCount())

	// Replay the recorded operations as if we are a follower receiving them
	// from the leader.
	isLeader.Store(false)
	shift := maxHTLease.Load() + 1
	if now := uint64(clock.Now()) + 1; now > shift {
		shift = now
	}
	for _, recorded := range ops {
		shifted := recorded.ht.AddLogical(shift)
		switch recorded.kind {
		case opAdd:
			m.AddPending(&shifted)
			require.Equal(t, recorded.ht.AddLogical(shift), shifted)
		case opReplicated:
			m.Replicated(shifted)
		case opAborted:
			m.Aborted(shifted)
		}
	}
	require.Zero(t, m.PendingCount())
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
