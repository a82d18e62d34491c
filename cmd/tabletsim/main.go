// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// tabletsim drives a randomized write workload against a tablet MVCC
// manager and reports safe-time behavior. It exists to exercise the manager
// under a configurable mix of adds, replications, and aborts, with an
// optional simulated leader lease and a follower-mode replay of the same
// history.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tabletdb/tabletdb/pkg/tablet/mvcc"
	"github.com/tabletdb/tabletdb/pkg/util/hlc"
	"github.com/tabletdb/tabletdb/pkg/util/log"
	"github.com/tabletdb/tabletdb/pkg/util/stop"
	"github.com/tabletdb/tabletdb/pkg/util/timeutil"
)

var (
	flagOperations    int
	flagConcurrency   int
	flagLeaseJitterUs int64
	flagSeed          int64
	flagReplay        bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tabletsim",
		Short: "simulate a tablet replica's MVCC safe-time behavior",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSim()
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().IntVar(&flagOperations, "operations", 20000,
		"number of write operations to start")
	rootCmd.Flags().IntVar(&flagConcurrency, "concurrency", 50,
		"target number of concurrently pending operations")
	rootCmd.Flags().Int64Var(&flagLeaseJitterUs, "lease-jitter-us", 0,
		"simulated lease horizon jitter in microseconds; 0 disables lease capping")
	rootCmd.Flags().Int64Var(&flagSeed, "seed", 1, "random seed")
	rootCmd.Flags().BoolVar(&flagReplay, "replay", true,
		"replay the recorded history in follower mode afterwards")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type recordedOp struct {
	kind int // 0 add, 1 replicated, 2 aborted
	ht   hlc.HybridTime
}

func runSim() error {
	ctx := context.Background()
	clock := hlc.NewLogicalClock(hlc.Initial)
	manager := mvcc.NewManager("sim", clock)
	rng := rand.New(rand.NewSource(flagSeed))

	leaseProvider := func() hlc.HybridTime {
		if flagLeaseJitterUs == 0 {
			return hlc.Max
		}
		return clock.Peek().AddMicros(rng.Int63n(flagLeaseJitterUs + 1))
	}

	stopper := stop.NewStopper()
	stopper.RunWorker(ctx, func(ctx context.Context) {
		for {
			select {
			case <-stopper.ShouldQuiesce():
				return
			default:
			}
			manager.SafeTimeForRead(hlc.Max)
			time.Sleep(time.Microsecond)
		}
	})

	start := timeutil.Now()
	var alive []hlc.HybridTime
	history := make([]recordedOp, 0, 2*flagOperations)
	var counts [3]int

	minAlive := func() int {
		minIdx := 0
		for i, ht := range alive {
			if ht.Less(alive[minIdx]) {
				minIdx = i
			}
		}
		return minIdx
	}

	for i := 0; i < flagOperations || len(alive) > 0; i++ {
		var rnd int
		if flagOperations-i <= len(alive) {
			rnd = flagConcurrency + rng.Intn(2)
		} else {
			rnd = rng.Intn(2*flagConcurrency) - flagConcurrency +
				minInt(flagConcurrency, len(alive))
		}
		if rnd < flagConcurrency {
			var ht hlc.HybridTime
			manager.AddPending(&ht)
			alive = append(alive, ht)
			history = append(history, recordedOp{kind: 0, ht: ht})
		} else {
			var idx int
			if rnd&1 == 1 {
				idx = minAlive()
				history = append(history, recordedOp{kind: 1, ht: alive[idx]})
				manager.Replicated(alive[idx])
			} else {
				idx = rng.Intn(len(alive))
				history = append(history, recordedOp{kind: 2, ht: alive[idx]})
				manager.Aborted(alive[idx])
			}
			alive[idx] = alive[len(alive)-1]
			alive = alive[:len(alive)-1]
		}
		counts[history[len(history)-1].kind]++
		manager.SafeTimeForRead(leaseProvider())
	}

	leaderElapsed := timeutil.Since(start)
	log.Infof(ctx, "leader phase: adds=%d replicates=%d aborts=%d in %s",
		counts[0], counts[1], counts[2], leaderElapsed)
	fmt.Printf("leader phase: %d adds, %d replicates, %d aborts in %s\n",
		counts[0], counts[1], counts[2], leaderElapsed)
	fmt.Printf("final safe time: %s\n", manager.SafeTimeForRead(hlc.Max))

	if flagReplay {
		shift := uint64(clock.Now()) + 1
		replayStart := timeutil.Now()
		for _, op := range history {
			shifted := op.ht.AddLogical(shift)
			switch op.kind {
			case 0:
				manager.AddPending(&shifted)
			case 1:
				manager.Replicated(shifted)
			case 2:
				manager.Aborted(shifted)
			}
		}
		fmt.Printf("follower replay: %d ops in %s\n",
			len(history), timeutil.Since(replayStart))
	}

	stopper.Stop()
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
