// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package hlc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHybridTimeOrdering(t *testing.T) {
	ht := Initial.AddLogical(41)
	require.True(t, ht.Decremented().Less(ht))
	require.Equal(t, ht, ht.Decremented().Incremented())
	require.True(t, Min.Less(Initial))
	require.True(t, Initial.Less(Max))
	require.True(t, Max.Less(Invalid))
	require.False(t, Invalid.IsValid())
	require.True(t, Max.IsValid())
}

func TestHybridTimeComponents(t *testing.T) {
	ht := Min.AddMicros(25)
	require.Equal(t, int64(25), ht.Physical())
	require.Equal(t, uint64(0), ht.Logical())

	ht = ht.AddLogical(7)
	require.Equal(t, int64(25), ht.Physical())
	require.Equal(t, uint64(7), ht.Logical())

	// The logical component orders events within one microsecond.
	require.True(t, Min.AddMicros(25).Less(ht))
	require.True(t, ht.Less(Min.AddMicros(26)))
}

func TestHybridTimeCompare(t *testing.T) {
	a := Initial.AddLogical(10)
	b := Initial.AddLogical(20)
	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, 1, b.Compare(a))
	require.Equal(t, 0, a.Compare(a))
	require.Equal(t, b, MaxHybridTime(a, b))
	require.Equal(t, a, MinHybridTime(a, b))
}

func TestHybridTimeString(t *testing.T) {
	require.Equal(t, "<min>", Min.String())
	require.Equal(t, "<max>", Max.String())
	require.Equal(t, "<invalid>", Invalid.String())
	require.Equal(t, "{ physical: 25 logical: 7 }", Min.AddMicros(25).AddLogical(7).String())
}

func TestLogicalClock(t *testing.T) {
	c := NewLogicalClock(Initial)
	first := c.Now()
	require.Equal(t, Initial.Incremented(), first)
	second := c.Now()
	require.True(t, first.Less(second))
	require.Equal(t, second, c.Peek())

	// Update raises the clock.
	target := second.AddLogical(100)
	c.Update(target)
	require.Equal(t, target, c.Peek())
	require.True(t, target.Less(c.Now()))

	// A stale update is a no-op.
	before := c.Peek()
	c.Update(before.Decremented().Decremented())
	require.Equal(t, before, c.Peek())
}

func TestHybridClockMonotonic(t *testing.T) {
	c := NewHybridClock()
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		next := c.Now()
		require.True(t, prev.Less(next))
		prev = next
	}

	// Updating far into the future forces logical advancement past the
	// wall clock.
	target := prev.AddMicros(1 << 30)
	c.Update(target)
	require.True(t, target.Less(c.Now()))
}
