// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

// Package metrics defines the instrumentation points of the sharding state, so the sharding package is not coupled to
// a specific metrics backend.
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when the operation completes.
type Timer interface {
	ObserveDuration()
}

const (
	GuardModeShared    = "shared"
	GuardModeExclusive = "exclusive"

	StaleReasonCriticalSection = "critical_section"
	StaleReasonVersionMismatch = "version_mismatch"
)

// ShardingMetrics collects the metrics of the sharding state.
type ShardingMetrics interface {
	// RecoveryResolved records the outcome of the cluster role recovery.
	RecoveryResolved(success bool)
	// GuardWaitDuration measures how long the acquisition of a transitional guard with the given mode blocks.
	GuardWaitDuration(mode string) Timer
	// StaleRoutingVersion records a rejected database version check.
	StaleRoutingVersion(reason string)
	// TransitionalPhase records whether the node is in the transitional phase.
	TransitionalPhase(active bool)
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

type nopShardingMetrics struct{}

func (nopShardingMetrics) RecoveryResolved(bool)          {}
func (nopShardingMetrics) GuardWaitDuration(string) Timer { return nopTimer{} }
func (nopShardingMetrics) StaleRoutingVersion(string)     {}
func (nopShardingMetrics) TransitionalPhase(bool)         {}

// NopShardingMetrics returns a ShardingMetrics which does nothing.
func NopShardingMetrics() ShardingMetrics { return nopShardingMetrics{} }
