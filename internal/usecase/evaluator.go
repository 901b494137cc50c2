package usecase

import (
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// Evaluator turns snapshots into reports: classification, traffic lights and
// sticky alerts. Alert state survives settings changes.
type Evaluator struct {
	mu         sync.Mutex
	classifier *Classifier
	alerts     *AlertEngine
	logger     *zap.Logger
}

// NewEvaluator creates an evaluator around a classifier.
func NewEvaluator(classifier *Classifier, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		classifier: classifier,
		alerts:     NewAlertEngine(),
		logger:     logger,
	}
}

// SetClassifier swaps group definitions and settings, e.g. after a config reload.
func (e *Evaluator) SetClassifier(c *Classifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.classifier = c
}

// Evaluate builds the report for one snapshot and advances alert state.
func (e *Evaluator) Evaluate(snap domain.Snapshot) domain.Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	cls := e.classifier.Classify(snap)
	report := domain.Report{
		Snapshot: snap,
		Groups:   make([]domain.GroupStatus, 0, len(cls.Groups)),
		Other:    cls.Other,
	}

	for _, g := range cls.Groups {
		before := e.alerts.State(g.ID).Active
		state := e.alerts.Observe(g.ID, g.MaxResetIn, g.WorstRemainingPct)
		if state.Active != before {
			e.logger.Info("long reset alert changed",
				zap.String("group", g.ID),
				zap.Bool("active", state.Active),
				zap.Duration("max_reset", g.MaxResetIn),
				zap.Float64("worst_pct", g.WorstRemainingPct))
		}
		report.Groups = append(report.Groups, domain.GroupStatus{GroupView: g, IsLongReset: state.Active})
	}

	return report
}

// AlertState returns the sticky alert state of a group.
func (e *Evaluator) AlertState(groupID string) domain.AlertState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alerts.State(groupID)
}
