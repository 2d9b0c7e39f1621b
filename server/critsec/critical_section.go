// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package critsec

import (
	"context"
	"fmt"

	"github.com/CeresDB/ceresshard/pkg/assert"
)

// Operation selects which signal of the critical section applies to an operation.
type Operation int

const (
	Read Operation = iota
	Write
)

func (o Operation) String() string {
	switch o {
	case Read:
		return "read"
	case Write:
		return "write"
	}
	return fmt.Sprintf("unknown(%d)", int(o))
}

// Signal is closed once the critical section it was taken from is released. A nil Signal means no critical section is held.
type Signal <-chan struct{}

// Wait blocks until the critical section is released or the ctx is done.
func (s Signal) Wait(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case <-s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reason describes why a critical section is held.
type Reason struct {
	Command  string `json:"command"`
	Database string `json:"database"`
	Detail   string `json:"detail,omitempty"`
}

func (r Reason) String() string {
	if r.Detail == "" {
		return fmt.Sprintf("{command:%s, database:%s}", r.Command, r.Database)
	}
	return fmt.Sprintf("{command:%s, database:%s, detail:%s}", r.Command, r.Database, r.Detail)
}

// MigrationCriticalSection tracks the two phases of a migration critical section.
// The catch-up phase blocks writes, and the commit phase blocks reads as well.
//
// It is not synchronized: the owner must serialize mutations against reads.
type MigrationCriticalSection struct {
	// catchUp is not nil while the critical section is held, in any phase.
	catchUp chan struct{}
	// commit is not nil only in the commit phase.
	commit chan struct{}
	reason *Reason
}

func NewMigrationCriticalSection() *MigrationCriticalSection {
	return &MigrationCriticalSection{}
}

// EnterCatchUpPhase acquires the critical section, blocking writes.
func (c *MigrationCriticalSection) EnterCatchUpPhase(reason Reason) {
	assert.Assertf(c.catchUp == nil, "critical section is already held, reason:%s", c.reason)

	c.catchUp = make(chan struct{})
	c.reason = &reason
}

// EnterCommitPhase promotes the held critical section, blocking reads too.
func (c *MigrationCriticalSection) EnterCommitPhase() {
	assert.Assertf(c.catchUp != nil, "critical section must be in catch-up phase before entering commit phase")
	assert.Assertf(c.commit == nil, "critical section is already in commit phase, reason:%s", c.reason)

	c.commit = make(chan struct{})
}

// RollbackCommitPhase moves the critical section back to the catch-up phase, letting the blocked reads continue.
func (c *MigrationCriticalSection) RollbackCommitPhase() {
	assert.Assertf(c.catchUp != nil, "critical section is not held")

	if c.commit != nil {
		close(c.commit)
		c.commit = nil
	}
}

// Exit releases the critical section and wakes up all the waiters. It is a no-op if the critical section is not held.
func (c *MigrationCriticalSection) Exit() {
	if c.commit != nil {
		close(c.commit)
		c.commit = nil
	}
	if c.catchUp != nil {
		close(c.catchUp)
		c.catchUp = nil
	}
	c.reason = nil
}

// IsHeld reports whether the critical section is held in any phase.
func (c *MigrationCriticalSection) IsHeld() bool {
	return c.catchUp != nil
}

// Signal returns the signal an operation of kind op must wait for, or nil if op is not blocked.
func (c *MigrationCriticalSection) Signal(op Operation) Signal {
	switch op {
	case Write:
		if c.catchUp == nil {
			return nil
		}
		return c.catchUp
	case Read:
		if c.commit == nil {
			return nil
		}
		return c.commit
	}
	assert.Assertf(false, "unknown critical section operation:%s", op)
	return nil
}

// Reason returns the reason the critical section is held, or nil.
func (c *MigrationCriticalSection) Reason() *Reason {
	return c.reason
}
