// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package stop

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStopperQuiesce(t *testing.T) {
	s := NewStopper()
	var exited atomic.Int32
	for i := 0; i < 3; i++ {
		s.RunWorker(context.Background(), func(ctx context.Context) {
			<-s.ShouldQuiesce()
			exited.Add(1)
		})
	}
	s.Stop()
	require.Equal(t, int32(3), exited.Load())
}

func TestStopperIdempotentStop(t *testing.T) {
	s := NewStopper()
	s.Stop()
	s.Stop()
}

func TestStopperRejectsWorkersAfterStop(t *testing.T) {
	s := NewStopper()
	s.Stop()
	ran := false
	s.RunWorker(context.Background(), func(ctx context.Context) {
		ran = true
	})
	// Stop has already returned, so a late worker must not have been
	// started.
	require.False(t, ran)
}
