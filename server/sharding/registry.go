// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package sharding

import (
	"sync"

	"github.com/CeresDB/ceresshard/pkg/assert"
	"github.com/google/uuid"
)

// ServiceContext is the opaque handle of a running node process. The sharding state of the node is looked up by it.
type ServiceContext struct {
	id   uuid.UUID
	name string
}

func NewServiceContext(name string) *ServiceContext {
	return &ServiceContext{
		id:   uuid.New(),
		name: name,
	}
}

func (c *ServiceContext) ID() uuid.UUID {
	return c.id
}

func (c *ServiceContext) Name() string {
	return c.name
}

// Registry holds at most one ShardingState per ServiceContext.
type Registry struct {
	// RWMutex is used to protect following fields.
	lock   sync.RWMutex
	states map[*ServiceContext]*ShardingState
}

func NewRegistry() *Registry {
	return &Registry{
		states: make(map[*ServiceContext]*ShardingState),
	}
}

// Create installs the ShardingState of svc. It is a fatal error to create it twice for the same svc.
func (r *Registry) Create(svc *ServiceContext, inMaintenanceMode bool, opts ...Option) *ShardingState {
	assert.Assertf(svc != nil, "create sharding state with a nil service context")

	r.lock.Lock()
	defer r.lock.Unlock()

	_, exists := r.states[svc]
	assert.Assertf(!exists, "sharding state of service %s(%s) already exists", svc.Name(), svc.ID())

	state := newShardingState(svc, inMaintenanceMode, opts...)
	r.states[svc] = state
	return state
}

// Get returns the ShardingState of svc, or nil if it has not been created.
func (r *Registry) Get(svc *ServiceContext) *ShardingState {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.states[svc]
}

// GetFromOperation returns the ShardingState of the node the operation runs on, or nil if it has not been created.
func (r *Registry) GetFromOperation(opCtx OperationContext) *ShardingState {
	return r.Get(opCtx.ServiceContext())
}

// Remove destroys the ShardingState of svc on process shutdown.
func (r *Registry) Remove(svc *ServiceContext) {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.states, svc)
}

// AcquireShared acquires a shared TransitionalGuard on the ShardingState of the node the operation runs on.
func (r *Registry) AcquireShared(opCtx OperationContext) *TransitionalGuard {
	return r.mustGetFromOperation(opCtx).AcquireShared()
}

// AcquireExclusive acquires an exclusive TransitionalGuard on the ShardingState of the node the operation runs on.
func (r *Registry) AcquireExclusive(opCtx OperationContext) *TransitionalGuard {
	return r.mustGetFromOperation(opCtx).AcquireExclusive()
}

func (r *Registry) mustGetFromOperation(opCtx OperationContext) *ShardingState {
	state := r.GetFromOperation(opCtx)
	assert.Assertf(state != nil, "sharding state of service %s is not created", opCtx.ServiceContext().Name())
	return state
}
