package usecase

import (
	"time"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// Sticky alert thresholds.
const (
	// LongResetActivation: a countdown above this raises the alert.
	LongResetActivation = 5 * time.Hour

	// LongResetRecovery: the countdown must dip below and climb back above this
	// before the alert may clear.
	LongResetRecovery = 4 * time.Hour

	// FullQuotaPct is the remaining percentage that clears a recovered alert.
	FullQuotaPct = 100.0
)

// AlertEngine keeps the per-group "long reset" hysteresis state.
// Not safe for concurrent use; callers serialize observations.
type AlertEngine struct {
	states map[string]*domain.AlertState
}

// NewAlertEngine creates an engine with no groups observed.
func NewAlertEngine() *AlertEngine {
	return &AlertEngine{states: make(map[string]*domain.AlertState)}
}

// Observe applies one snapshot's figures to a group and returns the new state.
func (e *AlertEngine) Observe(groupID string, maxReset time.Duration, pct float64) domain.AlertState {
	s, ok := e.states[groupID]
	if !ok {
		s = &domain.AlertState{}
		e.states[groupID] = s
	}

	if maxReset > LongResetActivation {
		*s = domain.AlertState{Active: true}
	}

	if s.Active {
		if maxReset > 0 && maxReset < LongResetRecovery {
			s.DippedBelowRecovery = true
		}
		if s.DippedBelowRecovery && maxReset > LongResetRecovery {
			s.RecoveryConditionMet = true
		}
		if s.RecoveryConditionMet && pct >= FullQuotaPct {
			*s = domain.AlertState{}
		}
	}

	return *s
}

// State returns the current state of a group (zero value if never observed).
func (e *AlertEngine) State(groupID string) domain.AlertState {
	if s, ok := e.states[groupID]; ok {
		return *s
	}
	return domain.AlertState{}
}

// IsLongReset reports whether the group's sticky alert is active.
func (e *AlertEngine) IsLongReset(groupID string) bool {
	return e.State(groupID).Active
}
