// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// ProcessCandidate is a process that looks like the monitored language server.
// Produced by a one-shot OS query and discarded after resolution.
type ProcessCandidate struct {
	PID        int
	Invocation string // Full command line, kept verbatim
}

// Invocation holds the connection hints found in a command line.
type Invocation struct {
	Token    string
	PortHint int // 0 when absent or out of range
}

// ConnectionDescriptor is everything needed to reach the language server.
// It is a value type: a reconnect replaces it wholesale.
type ConnectionDescriptor struct {
	PID   int
	Port  int
	Token string
}

// IsZero reports whether the descriptor has not been resolved.
func (c ConnectionDescriptor) IsZero() bool {
	return c.Port == 0 && c.Token == ""
}

// QuotaItem is the quota state of one model at capture time.
type QuotaItem struct {
	Label             string
	ModelID           string
	RemainingFraction *float64 // nil when the service did not report one
	IsExhausted       bool
	ResetAt           time.Time     // Zero when the service reported no usable reset time
	TimeUntilReset    time.Duration // Relative to Snapshot.CapturedAt
}

// ResetKnown reports whether the item carries a reset time.
func (q QuotaItem) ResetKnown() bool {
	return !q.ResetAt.IsZero()
}

// RemainingPercentage returns the remaining quota in percent.
// ok is false when the fraction is unknown.
func (q QuotaItem) RemainingPercentage() (pct float64, ok bool) {
	if q.RemainingFraction == nil {
		return 0, false
	}
	return *q.RemainingFraction * 100, true
}

// CreditBalance is a metered credit pool. Only built when Monthly > 0.
type CreditBalance struct {
	Available           float64 `json:"available"`
	Monthly             float64 `json:"monthly"`
	UsedPercentage      float64 `json:"used_percentage"`
	RemainingPercentage float64 `json:"remaining_percentage"`
}

// NewCreditBalance derives the percentages. Returns nil unless monthly > 0.
func NewCreditBalance(available, monthly float64) *CreditBalance {
	if monthly <= 0 {
		return nil
	}
	used := (monthly - available) / monthly * 100
	return &CreditBalance{
		Available:           available,
		Monthly:             monthly,
		UsedPercentage:      used,
		RemainingPercentage: 100 - used,
	}
}

// Snapshot is the normalized result of one successful poll. Immutable once built.
type Snapshot struct {
	CapturedAt    time.Time
	Plan          string
	PromptCredits *CreditBalance
	FlowCredits   *CreditBalance
	Items         []QuotaItem
}

// GroupDefinition is a static, named bucket of models matched by label.
type GroupDefinition struct {
	ID            string
	DisplayName   string
	LabelPatterns []string // Lowercase substrings
}

// Light is a traffic-light colour.
type Light string

const (
	LightGreen  Light = "green"
	LightYellow Light = "yellow"
	LightRed    Light = "red"
)

// Thresholds are "at or below" limits in percent.
type Thresholds struct {
	Yellow float64 `json:"yellow" yaml:"yellow" toml:"yellow"`
	Red    float64 `json:"red" yaml:"red" toml:"red"`
}

// DefaultThresholds returns the default {40, 20} limits.
func DefaultThresholds() Thresholds {
	return Thresholds{Yellow: 40, Red: 20}
}

// GroupSettings is the per-group user configuration.
type GroupSettings struct {
	Enabled bool       `json:"enabled" yaml:"enabled" toml:"enabled"`
	Limits  Thresholds `json:"limits" yaml:"limits" toml:"limits"`
}

// DefaultGroupSettings applies to groups absent from configuration.
func DefaultGroupSettings() GroupSettings {
	return GroupSettings{Enabled: true, Limits: DefaultThresholds()}
}

// GroupView is a group's members and derived figures for one snapshot.
// Rebuilt from scratch on every classification pass.
type GroupView struct {
	ID                string
	DisplayName       string
	Members           []QuotaItem
	WorstRemainingPct float64
	MaxResetIn        time.Duration
	Light             Light
	Enabled           bool
}

// ResetKnown reports whether any member carries a reset time.
func (g GroupView) ResetKnown() bool {
	for _, m := range g.Members {
		if m.ResetKnown() {
			return true
		}
	}
	return false
}

// Classification is the result of one pass of the group classifier.
type Classification struct {
	Groups []GroupView // In definition order
	Other  []QuotaItem // Items matching no definition
}

// AlertState is the sticky "long reset" hysteresis memory of one group.
// The only derived state that survives across snapshots.
type AlertState struct {
	Active               bool `json:"active"`
	DippedBelowRecovery  bool `json:"dipped_below_recovery"`
	RecoveryConditionMet bool `json:"recovery_condition_met"`
}

// GroupStatus is a group view combined with its sticky alert flag.
type GroupStatus struct {
	GroupView
	IsLongReset bool
}

// Report is what consumers render for one snapshot.
type Report struct {
	Snapshot Snapshot
	Groups   []GroupStatus
	Other    []QuotaItem
}
