// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package sharding

import (
	"fmt"
	"strings"

	"github.com/CeresDB/ceresshard/pkg/coderr"
	"github.com/CeresDB/ceresshard/server/critsec"
	"github.com/pkg/errors"
)

var (
	ErrShardingStateNotInitialized = coderr.NewCodeError(coderr.ShardingStateNotInitialized, "sharding state has not been initialized")
	ErrManualInterventionRequired  = coderr.NewCodeError(coderr.ManualInterventionRequired, "this instance's sharding role failed to initialize and will remain in this state until the process is restarted, "+
		"in addition some manual intervention might be required, which would require the node to be started in maintenance mode")
)

var _ coderr.CodeError = &StaleDBRoutingVersionError{}

// StaleDBRoutingVersionError tells the router that its version of the database is stale.
// The router should refresh its routing information, after waiting for CriticalSectionSignal if it is not nil, and then retry.
type StaleDBRoutingVersionError struct {
	DB       string
	Received DatabaseVersion
	// Wanted is nil if the expected version is unknown, e.g. the critical section is held.
	Wanted *DatabaseVersion
	// CriticalSectionSignal is closed once the critical section blocking the operation is released.
	CriticalSectionSignal critsec.Signal

	msg   string
	cause error
}

func newStaleDBRoutingVersionError(db string, received DatabaseVersion, wanted *DatabaseVersion, signal critsec.Signal, msg string) *StaleDBRoutingVersionError {
	return &StaleDBRoutingVersionError{
		DB:                    db,
		Received:              received,
		Wanted:                wanted,
		CriticalSectionSignal: signal,
		msg:                   msg,
	}
}

func (e *StaleDBRoutingVersionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "(#%d)%s, db:%s, received:%s", coderr.StaleDbRoutingVersion, e.msg, e.DB, e.Received)
	if e.Wanted != nil {
		fmt.Fprintf(&b, ", wanted:%s", e.Wanted)
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ", cause:%v", e.cause)
	}
	return b.String()
}

func (e *StaleDBRoutingVersionError) Code() coderr.Code {
	return coderr.StaleDbRoutingVersion
}

func (e *StaleDBRoutingVersionError) Unwrap() error {
	return e.cause
}

func (e *StaleDBRoutingVersionError) WithCausef(format string, a ...any) coderr.CodeError {
	return e.WithCause(errors.Errorf(format, a...))
}

func (e *StaleDBRoutingVersionError) WithCause(cause error) coderr.CodeError {
	cloned := *e
	cloned.cause = errors.WithStack(cause)
	return &cloned
}

// AsStaleDBRoutingVersion extracts the StaleDBRoutingVersionError from the chain of err.
func AsStaleDBRoutingVersion(err error) (*StaleDBRoutingVersionError, bool) {
	var staleErr *StaleDBRoutingVersionError
	if errors.As(err, &staleErr) {
		return staleErr, true
	}
	return nil, false
}
