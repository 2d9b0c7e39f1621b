// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package sharding

import (
	"fmt"

	"github.com/CeresDB/ceresshard/pkg/assert"
	"github.com/CeresDB/ceresshard/server/critsec"
	"github.com/CeresDB/ceresshard/server/metrics"
	"go.uber.org/zap"
)

const logEventStaleDBVersion = "staleDbVersion"

// TransitionalGuard holds the transitional phase lock of a ShardingState, in shared or exclusive mode.
// The transitional state can only be read or changed through a live guard.
//
// A guard is released by Release, typically deferred right after the acquisition. Move transfers the lock to a new
// guard and leaves the source inert, so releasing the source is a no-op.
type TransitionalGuard struct {
	// state is nil once the guard is released or moved.
	state     *ShardingState
	exclusive bool
}

// Release releases the lock held by the guard. Releasing an inert guard is a no-op.
func (g *TransitionalGuard) Release() {
	if g.state == nil {
		return
	}

	if g.exclusive {
		g.state.transitionalLock.Unlock()
	} else {
		g.state.transitionalLock.RUnlock()
	}
	g.state = nil
}

// Move returns a new guard owning the lock held by g, which becomes inert.
func (g *TransitionalGuard) Move() *TransitionalGuard {
	moved := &TransitionalGuard{
		state:     g.state,
		exclusive: g.exclusive,
	}
	g.state = nil
	return moved
}

// IsLive reports whether the guard still holds the lock.
func (g *TransitionalGuard) IsLive() bool {
	return g.state != nil
}

func (g *TransitionalGuard) IsExclusive() bool {
	return g.exclusive
}

func (g *TransitionalGuard) live() *ShardingState {
	assert.Assertf(g.state != nil, "transitional sharding state is accessed through a released guard")
	return g.state
}

func (g *TransitionalGuard) liveExclusive() *ShardingState {
	s := g.live()
	assert.Assertf(g.exclusive, "transitional sharding state of service %s is modified without the exclusive guard", s.svc.Name())
	return s
}

// CriticalSectionSignal returns the signal an operation of kind op must wait for, or nil if op is not blocked.
func (g *TransitionalGuard) CriticalSectionSignal(op critsec.Operation) critsec.Signal {
	return g.live().critSec.Signal(op)
}

// CriticalSectionReason returns why the critical section is held, or nil.
func (g *TransitionalGuard) CriticalSectionReason() *critsec.Reason {
	return g.live().critSec.Reason()
}

// TransitionalVersion returns the database version recorded for the transitional phase.
func (g *TransitionalGuard) TransitionalVersion() (DatabaseVersion, bool) {
	s := g.live()
	if s.transitionalVersion == nil {
		return DatabaseVersion{}, false
	}
	return *s.transitionalVersion, true
}

// IsInTransitionalPhase reports whether the critical section blocks op or a transitional version is recorded.
// The phase contains the transitions too: it begins when the critical section is first acquired and ends when it is
// finally released.
func (g *TransitionalGuard) IsInTransitionalPhase(op critsec.Operation) bool {
	s := g.live()
	return s.critSec.Signal(op) != nil || s.transitionalVersion != nil
}

// Phase returns PhaseIdle or PhaseTransitional.
func (g *TransitionalGuard) Phase() string {
	return g.live().phase.Current()
}

// CheckDBVersion checks the version of dbName attached to the operation. Operations which are not coming from a router,
// or carry no version of dbName, are unversioned and always pass.
func (g *TransitionalGuard) CheckDBVersion(opCtx OperationContext, dbName string) error {
	g.live()
	if !opCtx.IsComingFromRouter() {
		return nil
	}

	version, ok := opCtx.DatabaseVersion(dbName)
	if !ok {
		return nil
	}
	return g.CheckReceivedDBVersion(opCtx, dbName, version)
}

// CheckReceivedDBVersion fails with a StaleDBRoutingVersionError if the critical section blocks the operation, or if
// received differs from the transitional version. It must only be called in the transitional phase.
func (g *TransitionalGuard) CheckReceivedDBVersion(opCtx OperationContext, dbName string, received DatabaseVersion) error {
	s := g.live()

	if signal := s.critSec.Signal(LockModeOf(opCtx)); signal != nil {
		msg := fmt.Sprintf("the global sharding state critical section is acquired while checking for the database %s with reason: %s",
			dbName, s.critSec.Reason())
		err := newStaleDBRoutingVersionError(dbName, received, nil, signal, msg)
		s.reportStaleDBVersion(metrics.StaleReasonCriticalSection, err)
		return err
	}

	assert.Assertf(s.transitionalVersion != nil, "database version of %s should be checked only in the transitional phase", dbName)

	if received != *s.transitionalVersion {
		wanted := *s.transitionalVersion
		msg := fmt.Sprintf("database version mismatch: transitional version expected for %s", dbName)
		err := newStaleDBRoutingVersionError(dbName, received, &wanted, nil, msg)
		s.reportStaleDBVersion(metrics.StaleReasonVersionMismatch, err)
		return err
	}
	return nil
}

func (s *ShardingState) reportStaleDBVersion(reason string, err *StaleDBRoutingVersionError) {
	s.metrics.StaleRoutingVersion(reason)
	if s.logLimiter.Allow(logEventStaleDBVersion) {
		s.logger.Warn("reject stale database version", zap.String("reason", reason), zap.Error(err))
	}
}

// SetTransitionalVersion records the version the database versions are checked against in the transitional phase.
func (g *TransitionalGuard) SetTransitionalVersion(version DatabaseVersion) {
	s := g.liveExclusive()
	s.transitionalVersion = &version
	s.syncPhaseLocked()
}

func (g *TransitionalGuard) ClearTransitionalVersion() {
	s := g.liveExclusive()
	s.transitionalVersion = nil
	s.syncPhaseLocked()
}

// EnterCriticalSectionCatchUpPhase acquires the critical section, blocking the write operations.
func (g *TransitionalGuard) EnterCriticalSectionCatchUpPhase(reason critsec.Reason) {
	s := g.liveExclusive()
	s.critSec.EnterCatchUpPhase(reason)
	s.logger.Info("enter critical section catch-up phase", zap.Stringer("reason", reason))
	s.syncPhaseLocked()
}

// EnterCriticalSectionCommitPhase promotes the critical section, blocking the read operations too.
func (g *TransitionalGuard) EnterCriticalSectionCommitPhase() {
	s := g.liveExclusive()
	s.critSec.EnterCommitPhase()
	s.logger.Info("enter critical section commit phase", zap.Stringer("reason", s.critSec.Reason()))
}

// RollbackCriticalSectionCommitPhase moves the critical section back to the catch-up phase.
func (g *TransitionalGuard) RollbackCriticalSectionCommitPhase() {
	s := g.liveExclusive()
	s.critSec.RollbackCommitPhase()
	s.logger.Info("rollback critical section commit phase", zap.Stringer("reason", s.critSec.Reason()))
}

// ExitCriticalSection releases the critical section and wakes up all the operations waiting for its signals.
func (g *TransitionalGuard) ExitCriticalSection() {
	s := g.liveExclusive()
	s.critSec.Exit()
	s.logger.Info("exit critical section")
	s.syncPhaseLocked()
}
