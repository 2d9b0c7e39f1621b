// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package sharding

import "github.com/CeresDB/ceresshard/server/critsec"

// OperationContext is what the sharding state needs to know about an in-flight database operation.
type OperationContext interface {
	ServiceContext() *ServiceContext
	// IsWriteLocked reports whether the operation already holds a write-mode resource lock.
	IsWriteLocked() bool
	// IsComingFromRouter reports whether the request was sent by a router, i.e. it is versioned.
	IsComingFromRouter() bool
	// DatabaseVersion returns the version of dbName attached to the request.
	DatabaseVersion(dbName string) (DatabaseVersion, bool)
}

// LockModeOf selects the critical section signal which applies to the operation.
func LockModeOf(opCtx OperationContext) critsec.Operation {
	if opCtx.IsWriteLocked() {
		return critsec.Write
	}
	return critsec.Read
}

var _ OperationContext = &OperationState{}

// OperationState is the sharding related state of a single operation. It is not safe for concurrent use.
type OperationState struct {
	svc              *ServiceContext
	writeLocked      bool
	comingFromRouter bool
	dbVersions       map[string]DatabaseVersion
}

func NewOperationState(svc *ServiceContext) *OperationState {
	return &OperationState{
		svc:        svc,
		dbVersions: map[string]DatabaseVersion{},
	}
}

func (o *OperationState) ServiceContext() *ServiceContext {
	return o.svc
}

func (o *OperationState) IsWriteLocked() bool {
	return o.writeLocked
}

func (o *OperationState) IsComingFromRouter() bool {
	return o.comingFromRouter
}

func (o *OperationState) DatabaseVersion(dbName string) (DatabaseVersion, bool) {
	v, ok := o.dbVersions[dbName]
	return v, ok
}

func (o *OperationState) SetWriteLocked(writeLocked bool) {
	o.writeLocked = writeLocked
}

func (o *OperationState) SetComingFromRouter(comingFromRouter bool) {
	o.comingFromRouter = comingFromRouter
}

// SetDatabaseVersion attaches the version of dbName sent by the router, which marks the operation as coming from a router.
func (o *OperationState) SetDatabaseVersion(dbName string, version DatabaseVersion) {
	o.dbVersions[dbName] = version
	o.comingFromRouter = true
}
