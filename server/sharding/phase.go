// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package sharding

import (
	"github.com/CeresDB/ceresshard/pkg/assert"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// The transitional phase begins with the first critical section acquisition or version assignment, and ends once both
// are cleared.
//
//	┌──────┐  EnterTransitionalPhase  ┌──────────────┐
//	│ Idle ├─────────────────────────▶│ Transitional │
//	│      │◀─────────────────────────┤              │
//	└──────┘  LeaveTransitionalPhase  └──────────────┘
const (
	PhaseIdle         = "Idle"
	PhaseTransitional = "Transitional"

	EventEnterTransitionalPhase = "EnterTransitionalPhase"
	EventLeaveTransitionalPhase = "LeaveTransitionalPhase"
)

var phaseEvents = fsm.Events{
	{Name: EventEnterTransitionalPhase, Src: []string{PhaseIdle}, Dst: PhaseTransitional},
	{Name: EventLeaveTransitionalPhase, Src: []string{PhaseTransitional}, Dst: PhaseIdle},
}

func newPhaseFSM(s *ShardingState) *fsm.FSM {
	return fsm.NewFSM(
		PhaseIdle,
		phaseEvents,
		fsm.Callbacks{
			"enter_state": func(event *fsm.Event) {
				s.logger.Info("transitional phase changed", zap.String("from", event.Src), zap.String("to", event.Dst))
				s.metrics.TransitionalPhase(event.Dst == PhaseTransitional)
			},
		},
	)
}

// syncPhaseLocked moves the phase according to the critical section and the transitional version.
// The exclusive transitional lock must be held.
func (s *ShardingState) syncPhaseLocked() {
	inPhase := s.critSec.IsHeld() || s.transitionalVersion != nil

	var event string
	switch {
	case inPhase && s.phase.Is(PhaseIdle):
		event = EventEnterTransitionalPhase
	case !inPhase && s.phase.Is(PhaseTransitional):
		event = EventLeaveTransitionalPhase
	default:
		return
	}

	err := s.phase.Event(event)
	assert.Assertf(err == nil, "fail to move transitional phase, event:%s, err:%v", event, err)
}
