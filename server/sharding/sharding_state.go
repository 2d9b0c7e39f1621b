// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package sharding

import (
	"sync"

	"github.com/CeresDB/ceresshard/pkg/assert"
	"github.com/CeresDB/ceresshard/pkg/future"
	"github.com/CeresDB/ceresshard/pkg/log"
	"github.com/CeresDB/ceresshard/server/config"
	"github.com/CeresDB/ceresshard/server/critsec"
	"github.com/CeresDB/ceresshard/server/limiter"
	"github.com/CeresDB/ceresshard/server/metrics"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// ShardingState records whether the node has recovered its cluster role, and guards the database version checks
// against the transitional phase.
type ShardingState struct {
	svc               *ServiceContext
	inMaintenanceMode bool

	recovery *future.Promise[RecoveredClusterRole]
	// recovered is the view of the recovery shared by all the readers.
	recovered *future.Future[RecoveredClusterRole]

	metrics    metrics.ShardingMetrics
	logLimiter *limiter.FlowLimiter
	logger     *zap.Logger

	// transitionalLock protects the following fields. It is only acquired through a TransitionalGuard.
	transitionalLock    sync.RWMutex
	transitionalVersion *DatabaseVersion
	critSec             *critsec.MigrationCriticalSection
	phase               *fsm.FSM
}

type Option func(s *ShardingState)

func WithMetrics(m metrics.ShardingMetrics) Option {
	return func(s *ShardingState) {
		s.metrics = m
	}
}

// WithLogLimiter sets the limiter throttling the warnings of rejected version checks.
func WithLogLimiter(l *limiter.FlowLimiter) Option {
	return func(s *ShardingState) {
		s.logLimiter = l
	}
}

func newShardingState(svc *ServiceContext, inMaintenanceMode bool, opts ...Option) *ShardingState {
	recovery := future.NewPromise[RecoveredClusterRole]()
	s := &ShardingState{
		svc:               svc,
		inMaintenanceMode: inMaintenanceMode,
		recovery:          recovery,
		recovered:         recovery.Future(),
		metrics:           metrics.NopShardingMetrics(),
		logLimiter:        limiter.NewFlowLimiter(config.DefaultConfig().LogLimiter),
		logger:            log.With(zap.String("service", svc.Name())),
		critSec:           critsec.NewMigrationCriticalSection(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.phase = newPhaseFSM(s)
	return s
}

func (s *ShardingState) ServiceContext() *ServiceContext {
	return s.svc
}

func (s *ShardingState) InMaintenanceMode() bool {
	return s.inMaintenanceMode
}

// CompleteRecovery publishes the recovered role to all the observers. It must be called at most once, and never
// after FailRecovery.
func (s *ShardingState) CompleteRecovery(role RecoveredClusterRole) {
	s.logger.Info("sharding status of the node recovered successfully", zap.Stringer("role", role))

	s.recovery.EmplaceValue(role)
	s.metrics.RecoveryResolved(true)
}

// FailRecovery publishes the failure of the recovery to all the observers. The failure is terminal: the process must
// be restarted to retry the recovery.
func (s *ShardingState) FailRecovery(cause error) {
	assert.Assertf(cause != nil, "recovery can not be failed without a cause")
	s.logger.Error("sharding status of the node failed to recover", zap.Error(cause))

	s.recovery.SetError(ErrManualInterventionRequired.WithCause(cause))
	s.metrics.RecoveryResolved(false)
}

// AwaitRecovery returns a future resolved once the recovery completes or fails.
func (s *ShardingState) AwaitRecovery() *future.Future[RecoveredClusterRole] {
	return s.recovery.Future()
}

// PollRecoveredClusterRole returns the recovered identity without blocking. A failed recovery is reported the same as a
// pending one.
func (s *ShardingState) PollRecoveredClusterRole() (RecoveredClusterRole, bool) {
	role, err, ok := s.recovered.Poll()
	if !ok || err != nil {
		return RecoveredClusterRole{}, false
	}
	return role, true
}

// PollClusterRole returns the recovered cluster role without blocking. ok is false while the recovery is pending, and
// also if it failed.
func (s *ShardingState) PollClusterRole() (role ClusterRole, ok bool) {
	recovered, ok := s.PollRecoveredClusterRole()
	if !ok {
		return RoleNone, false
	}
	return recovered.Role, true
}

// RecoveryFailure returns the error the recovery failed with, or nil if it is pending or succeeded.
func (s *ShardingState) RecoveryFailure() error {
	_, err, ok := s.recovered.Poll()
	if !ok {
		return nil
	}
	return err
}

// Enabled reports whether the node serves sharding, i.e. it is not in maintenance mode and it is a shard server or a
// config server.
func (s *ShardingState) Enabled() bool {
	if s.InMaintenanceMode() {
		return false
	}

	role, ok := s.PollClusterRole()
	return ok && (role.Has(RoleConfigServer) || role.Has(RoleShardServer))
}

// AssertCanAcceptShardedCommands fails unless the cluster role is recovered.
// It ignores the maintenance mode, unlike Enabled.
func (s *ShardingState) AssertCanAcceptShardedCommands() error {
	if _, ok := s.PollClusterRole(); ok {
		return nil
	}
	return ErrShardingStateNotInitialized.WithCausef("cannot accept sharding commands if sharding state has not been initialized with a shardIdentity document")
}

// ShardID returns the recovered shard id. It does not wait for the recovery.
func (s *ShardingState) ShardID() (ShardID, error) {
	role, ok := s.PollRecoveredClusterRole()
	if !ok {
		return "", ErrShardingStateNotInitialized.WithCausef("sharding state cannot be accessed before it is initialized")
	}
	return role.ShardID, nil
}

// ClusterID returns the recovered cluster id. Calling it before the recovery completes is a fatal error.
func (s *ShardingState) ClusterID() uuid.UUID {
	role, ok := s.PollRecoveredClusterRole()
	assert.Assertf(ok, "cluster id of service %s is accessed before the sharding state is initialized", s.svc.Name())
	return role.ClusterID
}

// AcquireShared blocks until no exclusive guard is alive. Callers checking versions hold it.
func (s *ShardingState) AcquireShared() *TransitionalGuard {
	timer := s.metrics.GuardWaitDuration(metrics.GuardModeShared)
	s.transitionalLock.RLock()
	timer.ObserveDuration()

	return &TransitionalGuard{state: s, exclusive: false}
}

// AcquireExclusive blocks until no other guard is alive. The code opening or closing the transitional phase holds it.
func (s *ShardingState) AcquireExclusive() *TransitionalGuard {
	timer := s.metrics.GuardWaitDuration(metrics.GuardModeExclusive)
	s.transitionalLock.Lock()
	timer.ObserveDuration()

	return &TransitionalGuard{state: s, exclusive: true}
}
