// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package tablet contains the replica-side plumbing of a tablet: the peer
// lifecycle state machine, the write submission path, and the wiring between
// the consensus layer and the MVCC safe-time manager.
package tablet

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/tabletdb/tabletdb/pkg/tablet/mvcc"
	"github.com/tabletdb/tabletdb/pkg/util/hlc"
	"github.com/tabletdb/tabletdb/pkg/util/log"
	"github.com/tabletdb/tabletdb/pkg/util/metric"
	"github.com/tabletdb/tabletdb/pkg/util/stop"
	"github.com/tabletdb/tabletdb/pkg/util/syncutil"
	"github.com/tabletdb/tabletdb/pkg/util/timeutil"
)

// State describes where a peer is in its lifecycle.
type State int32

const (
	// StateNotStarted is the initial state.
	StateNotStarted State = iota
	// StateBootstrapping means the peer is replaying its log.
	StateBootstrapping
	// StateRunning means the peer accepts writes and reads.
	StateRunning
	// StateFailed means an unrecoverable error occurred; see Peer.Err.
	StateFailed
	// StateShutdown is terminal.
	StateShutdown
)

// String returns the state name the way it appears in status pages.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateBootstrapping:
		return "BOOTSTRAPPING"
	case StateRunning:
		return "RUNNING"
	case StateFailed:
		return "FAILED"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// LeaseProvider returns the upper bound of the leader's authority horizon at
// the moment of the call. It may return hlc.Max to disable lease capping. It
// must not call back into the peer or its MVCC manager.
type LeaseProvider func() hlc.HybridTime

// WriteOperation is a single write moving through the peer. The hybrid time
// is assigned by the MVCC manager on the leader and preset on followers.
type WriteOperation struct {
	HybridTime hlc.HybridTime
	// Payload is opaque to the peer.
	Payload []byte
}

// Consensus is the replication collaborator. Its internals (log, transport,
// elections) are outside the peer's concern.
type Consensus interface {
	// IsLeader reports whether this replica currently believes itself the
	// leader.
	IsLeader() bool
	// Replicate submits op to the replicated log. If it returns nil, done
	// is later invoked exactly once: with nil once the operation is durably
	// committed, or with an error if it will never commit. If it returns an
	// error, the operation never entered the log and done is not invoked.
	Replicate(ctx context.Context, op *WriteOperation, done func(error)) error
	// AnnounceSafeTime ships the leader's safe time to followers on the
	// next heartbeat, where it arrives as the propagated safe time.
	AnnounceSafeTime(ht hlc.HybridTime)
}

// Metrics holds the peer's metric instruments.
type Metrics struct {
	WritesSubmitted    *metric.Counter
	WritesAborted      *metric.Counter
	OperationsInFlight *metric.Gauge
}

func makeMetrics(registry *metric.Registry) Metrics {
	m := Metrics{
		WritesSubmitted: metric.NewCounter(metric.Metadata{
			Name: "tablet_writes_submitted",
			Help: "Write operations submitted to the replication layer",
		}),
		WritesAborted: metric.NewCounter(metric.Metadata{
			Name: "tablet_writes_aborted",
			Help: "Write operations that will never commit",
		}),
		OperationsInFlight: metric.NewGauge(metric.Metadata{
			Name: "tablet_operations_in_flight",
			Help: "Operations between submission and replication outcome",
		}),
	}
	if registry != nil {
		registry.AddMetric(m.WritesSubmitted)
		registry.AddMetric(m.WritesAborted)
		registry.AddMetric(m.OperationsInFlight)
	}
	return m
}

// defaultSafeTimeInterval is how often the leader announces its safe time
// to followers when the configuration does not say otherwise.
const defaultSafeTimeInterval = 100 * time.Millisecond

// Config holds the information necessary to create a Peer.
type Config struct {
	// TabletID identifies the tablet this peer replicates.
	TabletID string
	// Clock is shared with the other peers on the node and must outlive
	// the peer.
	Clock hlc.Clock
	// Consensus is the replication collaborator.
	Consensus Consensus
	// Lease bounds the leader's authority horizon.
	Lease LeaseProvider
	// Stopper controls the peer's background workers.
	Stopper *stop.Stopper
	// Registry receives the peer's metrics. May be nil.
	Registry *metric.Registry
	// SafeTimeInterval overrides the safe-time announcement period. Zero
	// means the default.
	SafeTimeInterval time.Duration
}

// Peer is a replica of a tablet in a consensus configuration. It coordinates
// writes through the consensus layer, keeps the shared clock up to date, and
// owns the tablet's MVCC manager.
type Peer struct {
	tabletID         string
	ambientCtx       context.Context
	clock            hlc.Clock
	mvcc             *mvcc.Manager
	consensus        Consensus
	lease            LeaseProvider
	stopper          *stop.Stopper
	tracker          *OperationTracker
	metrics          Metrics
	safeTimeInterval time.Duration

	state atomic.Int32
	// running is closed when the peer enters StateRunning.
	running chan struct{}

	mu struct {
		syncutil.Mutex
		// err is set at most once, before the transition to StateFailed.
		err error
	}
}

// NewPeer creates a peer from cfg. The peer is inert until Start is called.
func NewPeer(cfg Config) *Peer {
	p := &Peer{
		tabletID:         cfg.TabletID,
		ambientCtx:       logtags.AddTag(context.Background(), "tablet", cfg.TabletID),
		clock:            cfg.Clock,
		mvcc:             mvcc.NewManager(cfg.TabletID, cfg.Clock),
		consensus:        cfg.Consensus,
		lease:            cfg.Lease,
		stopper:          cfg.Stopper,
		safeTimeInterval: cfg.SafeTimeInterval,
		running:          make(chan struct{}),
	}
	if p.safeTimeInterval == 0 {
		p.safeTimeInterval = defaultSafeTimeInterval
	}
	p.metrics = makeMetrics(cfg.Registry)
	p.tracker = NewOperationTracker(p.metrics.OperationsInFlight)
	p.state.Store(int32(StateNotStarted))
	return p
}

// TabletID returns the ID of the tablet this peer replicates.
func (p *Peer) TabletID() string {
	return p.tabletID
}

// State returns the current lifecycle state.
func (p *Peer) State() State {
	return State(p.state.Load())
}

// HumanReadableState returns a string for status pages, including the error
// when the peer has failed.
func (p *Peer) HumanReadableState() string {
	s := p.State()
	if s == StateFailed {
		return s.String() + ": " + p.Err().Error()
	}
	return s.String()
}

// Start moves the peer through bootstrap into the running state, making it
// available for writes.
func (p *Peer) Start() error {
	if err := p.transition(StateNotStarted, StateBootstrapping); err != nil {
		return err
	}
	log.Infof(p.ambientCtx, "bootstrapping")
	if err := p.transition(StateBootstrapping, StateRunning); err != nil {
		return err
	}
	close(p.running)
	p.stopper.RunWorker(p.ambientCtx, p.runSafeTimeHeartbeat)
	log.Infof(p.ambientCtx, "running")
	return nil
}

// runSafeTimeHeartbeat periodically announces the leader's safe time to the
// followers, which apply it as their propagated safe time. Followers skip
// the announcement; the loop keeps running in case leadership changes.
func (p *Peer) runSafeTimeHeartbeat(ctx context.Context) {
	var t timeutil.Timer
	defer t.Stop()
	for {
		t.Reset(p.safeTimeInterval)
		select {
		case <-p.stopper.ShouldQuiesce():
			return
		case <-ctx.Done():
			return
		case <-t.C:
			t.Read = true
		}
		if p.State() != StateRunning || !p.consensus.IsLeader() {
			continue
		}
		p.consensus.AnnounceSafeTime(p.mvcc.SafeTimeForRead(p.lease()))
	}
}

func (p *Peer) transition(expected, next State) error {
	if !p.state.CompareAndSwap(int32(expected), int32(next)) {
		return errors.Newf("tablet %s: expected state %s, got %s",
			p.tabletID, expected, p.State())
	}
	return nil
}

// CheckRunning returns an error unless the peer is in the running state.
func (p *Peer) CheckRunning() error {
	if s := p.State(); s != StateRunning {
		return errors.Newf("tablet %s is not RUNNING: %s", p.tabletID, s)
	}
	return nil
}

// WaitUntilRunning blocks until the peer is running or the deadline passes.
func (p *Peer) WaitUntilRunning(deadline time.Time) error {
	var t timeutil.Timer
	defer t.Stop()
	t.Reset(timeutil.Until(deadline))
	select {
	case <-p.running:
		return nil
	case <-t.C:
		t.Read = true
		return errors.Newf("tablet %s did not reach RUNNING before deadline, state %s",
			p.tabletID, p.State())
	}
}

// SetFailed records err and moves the peer to the failed state. The first
// error wins; later calls only log.
func (p *Peer) SetFailed(err error) {
	p.mu.Lock()
	if p.mu.err == nil {
		p.mu.err = err
	} else {
		log.Warningf(p.ambientCtx, "already failed, dropping error: %v", err)
	}
	p.mu.Unlock()
	p.state.Store(int32(StateFailed))
	log.Errorf(p.ambientCtx, "tablet failed: %v", err)
}

// Err returns the error that moved the peer to the failed state, or nil.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mu.err
}

// Shutdown moves the peer to its terminal state and waits until all
// in-flight operations have completed. It is idempotent.
func (p *Peer) Shutdown(deadline time.Time) error {
	prev := State(p.state.Swap(int32(StateShutdown)))
	if prev == StateShutdown {
		return nil
	}
	log.Infof(p.ambientCtx, "shutting down from state %s", prev)
	if !p.tracker.WaitForZero(deadline) {
		return errors.Newf("tablet %s shutdown: %d operations still in flight at deadline",
			p.tabletID, p.tracker.Count())
	}
	return nil
}

// Now returns the current hybrid time from the shared clock.
func (p *Peer) Now() hlc.HybridTime {
	return p.clock.Now()
}

// UpdateClock raises the shared clock to ht. Called with timestamps observed
// from other nodes.
func (p *Peer) UpdateClock(ht hlc.HybridTime) {
	p.clock.Update(ht)
}

// SubmitWrite submits a write on the leader path: the MVCC manager assigns
// the operation's timestamp and the consensus layer replicates it. The
// outcome is routed back into the manager asynchronously.
func (p *Peer) SubmitWrite(ctx context.Context, op *WriteOperation, deadline time.Time) error {
	if err := p.CheckRunning(); err != nil {
		return err
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	p.tracker.Add(op)
	p.metrics.WritesSubmitted.Inc(1)
	p.mvcc.AddPending(&op.HybridTime)
	err := p.consensus.Replicate(ctx, op, func(err error) {
		defer cancel()
		p.finishOperation(op, err)
	})
	if err != nil {
		cancel()
		// The operation never entered the log.
		p.finishOperation(op, err)
		return err
	}
	return nil
}

func (p *Peer) finishOperation(op *WriteOperation, err error) {
	if err != nil {
		p.mvcc.Aborted(op.HybridTime)
		p.metrics.WritesAborted.Inc(1)
		log.Warningf(p.ambientCtx, "write at %s aborted: %v", op.HybridTime, err)
	} else {
		p.mvcc.Replicated(op.HybridTime)
	}
	p.tracker.Release(op)
}

// StartReplicaOperation registers an operation received from the leader. The
// operation carries its timestamp; the local clock is advanced past it
// first. propagatedSafeTime, when valid, is the leader's safe time shipped
// with the same consensus message.
func (p *Peer) StartReplicaOperation(
	op *WriteOperation, propagatedSafeTime hlc.HybridTime,
) error {
	if err := p.CheckRunning(); err != nil {
		return err
	}
	if op.HybridTime == hlc.Min {
		return errors.AssertionFailedf("replica operation arrived without a hybrid time")
	}
	p.clock.Update(op.HybridTime)
	p.tracker.Add(op)
	p.mvcc.AddPending(&op.HybridTime)
	if propagatedSafeTime.IsValid() && propagatedSafeTime != hlc.Min {
		p.mvcc.SetPropagatedSafeTime(propagatedSafeTime)
	}
	return nil
}

// FinishReplicaOperation resolves an operation previously registered with
// StartReplicaOperation: err == nil means committed, anything else aborts.
func (p *Peer) FinishReplicaOperation(op *WriteOperation, err error) {
	p.finishOperation(op, err)
}

// SetPropagatedSafeTime records the leader's announced safe time, delivered
// on replication heartbeats.
func (p *Peer) SetPropagatedSafeTime(ht hlc.HybridTime) {
	p.mvcc.SetPropagatedSafeTime(ht)
}

// SafeTimeForRead returns a timestamp at which a snapshot read sees a stable
// prefix, blocking until it reaches required or the deadline passes. On the
// leader the lease provider caps the result; on a follower the propagated
// safe time does.
func (p *Peer) SafeTimeForRead(
	required hlc.HybridTime, deadline time.Time,
) (hlc.HybridTime, bool) {
	if p.consensus.IsLeader() {
		return p.mvcc.SafeTime(required, deadline, p.lease())
	}
	return p.mvcc.SafeTimeForFollower(required, deadline)
}

// LastReplicatedHybridTime returns the timestamp of the most recently
// replicated operation.
func (p *Peer) LastReplicatedHybridTime() hlc.HybridTime {
	return p.mvcc.LastReplicatedHybridTime()
}

// OperationTracker returns the peer's in-flight operation registry.
func (p *Peer) OperationTracker() *OperationTracker {
	return p.tracker
}
