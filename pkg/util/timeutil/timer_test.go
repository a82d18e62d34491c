// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerFires(t *testing.T) {
	var timer Timer
	defer timer.Stop()
	timer.Reset(time.Millisecond)
	select {
	case <-timer.C:
		timer.Read = true
	case <-time.After(10 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestTimerResetAfterRead(t *testing.T) {
	var timer Timer
	defer timer.Stop()
	for i := 0; i < 3; i++ {
		timer.Reset(time.Millisecond)
		select {
		case <-timer.C:
			timer.Read = true
		case <-time.After(10 * time.Second):
			t.Fatalf("timer did not fire on iteration %d", i)
		}
	}
}

func TestTimerResetBeforeExpiry(t *testing.T) {
	var timer Timer
	defer timer.Stop()
	timer.Reset(time.Hour)
	timer.Reset(time.Millisecond)
	select {
	case <-timer.C:
		timer.Read = true
	case <-time.After(10 * time.Second):
		t.Fatal("re-armed timer did not fire")
	}
}

func TestTimerStopUnarmed(t *testing.T) {
	var timer Timer
	require.False(t, timer.Stop())
}
