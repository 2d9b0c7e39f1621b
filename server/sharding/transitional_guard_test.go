// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package sharding

import (
	"context"
	"testing"
	"time"

	"github.com/CeresDB/ceresshard/pkg/coderr"
	"github.com/CeresDB/ceresshard/pkg/log"
	"github.com/CeresDB/ceresshard/server/config"
	"github.com/CeresDB/ceresshard/server/critsec"
	"github.com/CeresDB/ceresshard/server/limiter"
	"github.com/CeresDB/ceresshard/server/metrics"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const blockedWaitTime = 50 * time.Millisecond

var testReason = critsec.Reason{Command: "movePrimary", Database: testDB}

func newTestOperation(svc *ServiceContext, writeLocked bool) *OperationState {
	opCtx := NewOperationState(svc)
	opCtx.SetWriteLocked(writeLocked)
	opCtx.SetComingFromRouter(true)
	return opCtx
}

// acquireAsync acquires a guard in a new goroutine and sends it to the returned channel.
func acquireAsync(acquire func() *TransitionalGuard) <-chan *TransitionalGuard {
	ch := make(chan *TransitionalGuard, 1)
	go func() {
		ch <- acquire()
	}()
	return ch
}

func requireBlocked(t *testing.T, ch <-chan *TransitionalGuard) {
	select {
	case g := <-ch:
		g.Release()
		require.FailNow(t, "guard should not be acquired")
	case <-time.After(blockedWaitTime):
	}
}

func requireAcquired(t *testing.T, ch <-chan *TransitionalGuard) *TransitionalGuard {
	select {
	case g := <-ch:
		return g
	case <-time.After(5 * time.Second):
		require.FailNow(t, "guard should be acquired")
	}
	return nil
}

func TestSharedGuardsAreConcurrent(t *testing.T) {
	re := require.New(t)
	_, _, state := newTestShardingState(false)

	g1 := state.AcquireShared()
	defer g1.Release()
	g2 := requireAcquired(t, acquireAsync(state.AcquireShared))
	defer g2.Release()

	re.False(g1.IsExclusive())
	re.True(g1.IsLive())
	re.True(g2.IsLive())
}

func TestExclusiveGuardWaitsForShared(t *testing.T) {
	re := require.New(t)
	_, _, state := newTestShardingState(false)

	shared := state.AcquireShared()
	exclusiveCh := acquireAsync(state.AcquireExclusive)
	requireBlocked(t, exclusiveCh)

	shared.Release()
	exclusive := requireAcquired(t, exclusiveCh)
	re.True(exclusive.IsExclusive())
	exclusive.Release()
}

func TestSharedGuardWaitsForExclusive(t *testing.T) {
	_, _, state := newTestShardingState(false)

	exclusive := state.AcquireExclusive()
	sharedCh := acquireAsync(state.AcquireShared)
	exclusiveCh := acquireAsync(state.AcquireExclusive)
	requireBlocked(t, sharedCh)
	requireBlocked(t, exclusiveCh)

	exclusive.Release()
	// Either waiter may win, the other one waits for it.
	select {
	case g := <-sharedCh:
		g.Release()
		requireAcquired(t, exclusiveCh).Release()
	case g := <-exclusiveCh:
		g.Release()
		requireAcquired(t, sharedCh).Release()
	case <-time.After(5 * time.Second):
		require.FailNow(t, "guard should be acquired")
	}
}

func TestMoveGuard(t *testing.T) {
	re := require.New(t)
	_, _, state := newTestShardingState(false)

	source := state.AcquireExclusive()
	moved := source.Move()
	re.False(source.IsLive())
	re.True(moved.IsLive())
	re.True(moved.IsExclusive())

	// Releasing the moved-from guard must not unlock.
	source.Release()
	sharedCh := acquireAsync(state.AcquireShared)
	requireBlocked(t, sharedCh)
	re.Panics(func() { source.IsInTransitionalPhase(critsec.Read) })
	re.Panics(func() { source.SetTransitionalVersion(newTestVersion(1)) })

	moved.SetTransitionalVersion(newTestVersion(1))
	moved.Release()
	// Releasing twice is a no-op rather than a double unlock.
	moved.Release()

	shared := requireAcquired(t, sharedCh)
	defer shared.Release()
	v, ok := shared.TransitionalVersion()
	re.True(ok)
	re.Equal(newTestVersion(1), v)
}

func TestMutationRequiresExclusiveGuard(t *testing.T) {
	re := require.New(t)
	_, _, state := newTestShardingState(false)

	shared := state.AcquireShared()
	re.Panics(func() { shared.SetTransitionalVersion(newTestVersion(1)) })
	re.Panics(func() { shared.ClearTransitionalVersion() })
	re.Panics(func() { shared.EnterCriticalSectionCatchUpPhase(testReason) })
	re.Panics(func() { shared.EnterCriticalSectionCommitPhase() })
	re.Panics(func() { shared.RollbackCriticalSectionCommitPhase() })
	re.Panics(func() { shared.ExitCriticalSection() })
	shared.Release()

	re.Panics(func() { shared.CriticalSectionSignal(critsec.Write) })
	re.Panics(func() { shared.CriticalSectionReason() })
	re.Panics(func() { shared.Phase() })

	exclusive := state.AcquireExclusive()
	defer exclusive.Release()
	_, ok := exclusive.TransitionalVersion()
	re.False(ok)
	re.Equal(PhaseIdle, exclusive.Phase())
}

func TestCheckReceivedDBVersion(t *testing.T) {
	re := require.New(t)
	m := newRecordingMetrics()
	_, svc, state := newTestShardingState(false, WithMetrics(m))
	v1 := newTestVersion(1)
	v2 := newTestVersion(2)

	exclusive := state.AcquireExclusive()
	exclusive.SetTransitionalVersion(v1)
	exclusive.Release()

	shared := state.AcquireShared()
	defer shared.Release()

	for _, writeLocked := range []bool{false, true} {
		opCtx := newTestOperation(svc, writeLocked)
		re.NoError(shared.CheckReceivedDBVersion(opCtx, testDB, v1))

		err := shared.CheckReceivedDBVersion(opCtx, testDB, v2)
		re.True(coderr.Is(err, coderr.StaleDbRoutingVersion))
		staleErr, ok := AsStaleDBRoutingVersion(err)
		re.True(ok)
		re.Equal(testDB, staleErr.DB)
		re.Equal(v2, staleErr.Received)
		re.NotNil(staleErr.Wanted)
		re.Equal(v1, *staleErr.Wanted)
		re.Nil(staleErr.CriticalSectionSignal)
	}
	re.Equal(2, m.stale[metrics.StaleReasonVersionMismatch])
}

func TestCheckDBVersionWithoutTransitionalVersion(t *testing.T) {
	re := require.New(t)
	_, svc, state := newTestShardingState(false)

	shared := state.AcquireShared()
	defer shared.Release()

	re.False(shared.IsInTransitionalPhase(critsec.Read))
	re.Panics(func() { _ = shared.CheckReceivedDBVersion(newTestOperation(svc, false), testDB, newTestVersion(1)) })
}

func TestCheckDBVersionFromOperation(t *testing.T) {
	re := require.New(t)
	_, svc, state := newTestShardingState(false)
	v1 := newTestVersion(1)

	// Unversioned operations pass even outside of the transitional phase.
	shared := state.AcquireShared()
	re.NoError(shared.CheckDBVersion(NewOperationState(svc), testDB))
	routed := NewOperationState(svc)
	routed.SetComingFromRouter(true)
	re.NoError(shared.CheckDBVersion(routed, testDB))
	shared.Release()

	exclusive := state.AcquireExclusive()
	exclusive.SetTransitionalVersion(v1)
	exclusive.Release()

	shared = state.AcquireShared()
	defer shared.Release()

	opCtx := NewOperationState(svc)
	opCtx.SetDatabaseVersion(testDB, newTestVersion(7))
	re.True(opCtx.IsComingFromRouter())
	err := shared.CheckDBVersion(opCtx, testDB)
	re.True(coderr.Is(err, coderr.StaleDbRoutingVersion))

	// The version of another database is not checked.
	re.NoError(shared.CheckDBVersion(opCtx, "other"))

	opCtx.SetDatabaseVersion(testDB, v1)
	re.NoError(shared.CheckDBVersion(opCtx, testDB))

	// Versions attached to a request not coming from a router are ignored.
	opCtx.SetDatabaseVersion(testDB, newTestVersion(7))
	opCtx.SetComingFromRouter(false)
	re.NoError(shared.CheckDBVersion(opCtx, testDB))
}

func TestCriticalSectionRejectsVersionCheck(t *testing.T) {
	re := require.New(t)
	m := newRecordingMetrics()
	_, svc, state := newTestShardingState(false, WithMetrics(m))
	v1 := newTestVersion(1)
	readOp := newTestOperation(svc, false)
	writeOp := newTestOperation(svc, true)

	exclusive := state.AcquireExclusive()
	exclusive.SetTransitionalVersion(v1)
	exclusive.EnterCriticalSectionCatchUpPhase(testReason)
	exclusive.Release()

	shared := state.AcquireShared()
	re.NotNil(shared.CriticalSectionSignal(critsec.Write))
	re.Nil(shared.CriticalSectionSignal(critsec.Read))
	re.Equal(testReason, *shared.CriticalSectionReason())

	// The catch-up phase only blocks the writes, even if the version matches.
	err := shared.CheckReceivedDBVersion(writeOp, testDB, v1)
	staleErr, ok := AsStaleDBRoutingVersion(err)
	re.True(ok)
	re.Nil(staleErr.Wanted)
	re.NotNil(staleErr.CriticalSectionSignal)
	re.Contains(err.Error(), "movePrimary")
	re.NoError(shared.CheckReceivedDBVersion(readOp, testDB, v1))
	shared.Release()

	exclusive = state.AcquireExclusive()
	exclusive.EnterCriticalSectionCommitPhase()
	exclusive.Release()

	shared = state.AcquireShared()
	readErr := shared.CheckReceivedDBVersion(readOp, testDB, v1)
	re.True(coderr.Is(readErr, coderr.StaleDbRoutingVersion))
	re.True(coderr.Is(shared.CheckReceivedDBVersion(writeOp, testDB, v1), coderr.StaleDbRoutingVersion))
	shared.Release()

	readStale, ok := AsStaleDBRoutingVersion(readErr)
	re.True(ok)
	waitDone := make(chan error, 1)
	go func() {
		waitDone <- readStale.CriticalSectionSignal.Wait(context.Background())
	}()

	exclusive = state.AcquireExclusive()
	exclusive.RollbackCriticalSectionCommitPhase()
	exclusive.Release()
	re.NoError(<-waitDone)

	shared = state.AcquireShared()
	re.NoError(shared.CheckReceivedDBVersion(readOp, testDB, v1))
	shared.Release()

	exclusive = state.AcquireExclusive()
	exclusive.ExitCriticalSection()
	exclusive.Release()

	shared = state.AcquireShared()
	defer shared.Release()
	re.NoError(shared.CheckReceivedDBVersion(writeOp, testDB, v1))
	re.Equal(3, m.stale[metrics.StaleReasonCriticalSection])
}

func TestCriticalSectionWithoutTransitionalVersion(t *testing.T) {
	re := require.New(t)
	_, svc, state := newTestShardingState(false)

	exclusive := state.AcquireExclusive()
	exclusive.EnterCriticalSectionCatchUpPhase(testReason)
	exclusive.Release()

	shared := state.AcquireShared()
	defer shared.Release()

	// The critical section is checked before the transitional version is required.
	err := shared.CheckReceivedDBVersion(newTestOperation(svc, true), testDB, newTestVersion(1))
	re.True(coderr.Is(err, coderr.StaleDbRoutingVersion))
}

func TestStaleVersionAfterCriticalSectionOpens(t *testing.T) {
	re := require.New(t)
	_, svc, state := newTestShardingState(false)
	v1 := newTestVersion(1)
	opCtx := newTestOperation(svc, true)
	opCtx.SetDatabaseVersion(testDB, v1)

	exclusive := state.AcquireExclusive()
	exclusive.SetTransitionalVersion(v1)
	exclusive.Release()

	guardA := state.AcquireShared()
	re.NoError(guardA.CheckDBVersion(opCtx, testDB))
	guardA.Release()

	exclusive = state.AcquireExclusive()
	exclusive.EnterCriticalSectionCatchUpPhase(testReason)
	exclusive.Release()

	guardA = state.AcquireShared()
	defer guardA.Release()
	err := guardA.CheckDBVersion(opCtx, testDB)
	re.True(coderr.Is(err, coderr.StaleDbRoutingVersion))
	v, ok := guardA.TransitionalVersion()
	re.True(ok)
	re.Equal(v1, v)
}

func TestTransitionalPhase(t *testing.T) {
	re := require.New(t)
	m := newRecordingMetrics()
	_, _, state := newTestShardingState(false, WithMetrics(m))

	g := state.AcquireExclusive()
	defer g.Release()
	re.Equal(PhaseIdle, g.Phase())

	g.EnterCriticalSectionCatchUpPhase(testReason)
	re.Equal(PhaseTransitional, g.Phase())
	re.True(g.IsInTransitionalPhase(critsec.Write))
	re.False(g.IsInTransitionalPhase(critsec.Read))

	g.SetTransitionalVersion(newTestVersion(1))
	re.True(g.IsInTransitionalPhase(critsec.Read))

	g.ExitCriticalSection()
	// The phase lasts while the version is recorded.
	re.Equal(PhaseTransitional, g.Phase())
	re.True(g.IsInTransitionalPhase(critsec.Write))

	g.ClearTransitionalVersion()
	re.Equal(PhaseIdle, g.Phase())
	re.False(g.IsInTransitionalPhase(critsec.Write))
	re.False(g.IsInTransitionalPhase(critsec.Read))

	g.SetTransitionalVersion(newTestVersion(2))
	re.Equal(PhaseTransitional, g.Phase())
	g.EnterCriticalSectionCatchUpPhase(testReason)
	g.ClearTransitionalVersion()
	re.Equal(PhaseTransitional, g.Phase())
	g.ExitCriticalSection()
	re.Equal(PhaseIdle, g.Phase())

	re.Equal([]bool{true, false, true, false}, m.phases)
}

func TestStaleVersionWarningIsThrottled(t *testing.T) {
	re := require.New(t)
	prev := log.GetLogger()
	defer log.SetGlobalLogger(prev)
	core, logs := observer.New(zapcore.WarnLevel)
	log.SetGlobalLogger(zap.New(core))

	l := limiter.NewFlowLimiter(config.LimiterConfig{
		Enable:                        true,
		TokenBucketFillRate:           1,
		TokenBucketBurstEventCapacity: 1,
	})
	_, svc, state := newTestShardingState(false, WithLogLimiter(l))

	g := state.AcquireExclusive()
	g.SetTransitionalVersion(newTestVersion(1))
	for i := 0; i < 3; i++ {
		err := g.CheckReceivedDBVersion(newTestOperation(svc, false), testDB, newTestVersion(2))
		re.Error(err)
	}
	g.Release()

	re.Equal(1, logs.FilterMessage("reject stale database version").Len())
}
