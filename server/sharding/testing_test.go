// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package sharding

import (
	"sync"
	"testing"

	"github.com/CeresDB/ceresshard/server/metrics"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	testShardID    = ShardID("shard01")
	testDB         = "test"
	testConnString = "cfg/host:27019"
)

var (
	testClusterID = uuid.MustParse("5f8b1c4a-0000-4000-8000-000000000001")
	testDBUUID    = uuid.MustParse("7c1f0b2e-0000-4000-8000-000000000002")
)

func newTestRole(t *testing.T, role ClusterRole) RecoveredClusterRole {
	cs, err := ParseConnectionString(testConnString)
	require.NoError(t, err)
	return RecoveredClusterRole{
		Role:                        role,
		ShardID:                     testShardID,
		ClusterID:                   testClusterID,
		ConfigShardConnectionString: cs,
	}
}

func newTestShardingState(inMaintenanceMode bool, opts ...Option) (*Registry, *ServiceContext, *ShardingState) {
	registry := NewRegistry()
	svc := NewServiceContext("test-node")
	state := registry.Create(svc, inMaintenanceMode, opts...)
	return registry, svc, state
}

func newTestVersion(lastMod int32) DatabaseVersion {
	v := NewDatabaseVersion(testDBUUID, Timestamp{Seconds: 100, Increment: 1})
	v.LastMod = lastMod
	return v
}

// recordingMetrics records the calls to the metrics.
type recordingMetrics struct {
	lock      sync.Mutex
	recovery  []bool
	stale     map[string]int
	phases    []bool
	guardWait map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		stale:     map[string]int{},
		guardWait: map[string]int{},
	}
}

type recordingTimer struct {
	m    *recordingMetrics
	mode string
}

func (t recordingTimer) ObserveDuration() {
	t.m.lock.Lock()
	defer t.m.lock.Unlock()
	t.m.guardWait[t.mode]++
}

func (m *recordingMetrics) RecoveryResolved(success bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.recovery = append(m.recovery, success)
}

func (m *recordingMetrics) GuardWaitDuration(mode string) metrics.Timer {
	return recordingTimer{m: m, mode: mode}
}

func (m *recordingMetrics) StaleRoutingVersion(reason string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.stale[reason]++
}

func (m *recordingMetrics) TransitionalPhase(active bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.phases = append(m.phases, active)
}
