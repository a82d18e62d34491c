// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package timeutil

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// The Timer type represents a single event. When the Timer expires, the
// current time will be sent on Timer.C.
//
// This is an abstraction around the standard library's time.Timer that draws
// from a pool of stopped timers to reduce allocations in wait loops that
// repeatedly re-arm a deadline.
//
// Unlike the standard library's Timer, this Timer does not begin counting
// down until Reset is called for the first time; the zero value is ready to
// use. Callers must set Read to true whenever a value is received from C,
// so that Stop can tell whether the expiration was consumed.
type Timer struct {
	timer *time.Timer
	// C is a local copy of timer.C usable in a select before the timer has
	// been initialized via Reset.
	C    <-chan time.Time
	Read bool
}

// Reset changes the timer to expire after duration d.
func (t *Timer) Reset(d time.Duration) {
	if t.timer == nil {
		if pooled := timerPool.Get(); pooled != nil {
			t.timer = pooled.(*time.Timer)
			t.timer.Reset(d)
		} else {
			t.timer = time.NewTimer(d)
		}
		t.C = t.timer.C
		return
	}
	if !t.timer.Stop() && !t.Read {
		<-t.C
	}
	t.timer.Reset(d)
	t.Read = false
}

// Stop prevents the Timer from firing and returns the timer to the pool. It
// returns true if the call stops the timer, false if the timer has already
// expired, been stopped, or was never armed. Stop does not close the
// channel, to prevent a read from succeeding incorrectly.
func (t *Timer) Stop() bool {
	var res bool
	if t.timer != nil {
		res = t.timer.Stop()
		if res {
			timerPool.Put(t.timer)
		}
	}
	*t = Timer{}
	return res
}
