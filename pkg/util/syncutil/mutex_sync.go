// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

//go:build !deadlock

package syncutil

import "sync"

// DeadlockEnabled is true if the deadlock detector is enabled.
const DeadlockEnabled = false

// A Mutex is a mutual exclusion lock. It is intended to be embedded into a
// `mu struct` together with the fields it protects.
type Mutex struct {
	sync.Mutex
}

// AssertHeld may panic if the mutex is not locked (but it is not required to
// do so). Functions which require that their callers hold a particular lock
// may use this to enforce the requirement more directly than relying on the
// race detector.
func (m *Mutex) AssertHeld() {
}

// An RWMutex is a reader/writer mutual exclusion lock.
type RWMutex struct {
	sync.RWMutex
}

// AssertHeld may panic if the mutex is not locked for writing (but it is not
// required to do so).
func (rw *RWMutex) AssertHeld() {
}

// AssertRHeld may panic if the mutex is not locked for reading (but it is
// not required to do so). A mutex locked for writing is also considered
// locked for reading.
func (rw *RWMutex) AssertRHeld() {
}
