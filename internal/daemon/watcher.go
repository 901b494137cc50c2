// Package daemon runs the long-lived consumer of quota updates.
package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
	"github.com/eliteGoblin/focusd/quota_mon/internal/metrics"
	"github.com/eliteGoblin/focusd/quota_mon/internal/monitor"
	"github.com/eliteGoblin/focusd/quota_mon/internal/usecase"
)

// UpdateSource is the polling client as seen by the watcher.
type UpdateSource interface {
	Updates() <-chan monitor.Update
	Refresh(ctx context.Context) (monitor.Update, error)
	Status() monitor.Status
}

// WatcherConfig holds watcher daemon configuration.
type WatcherConfig struct {
	PruneInterval time.Duration // How often to prune the journal
	Retention     time.Duration // How long journal entries are kept
}

// DefaultWatcherConfig returns default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		PruneInterval: time.Hour,
		Retention:     30 * 24 * time.Hour,
	}
}

// Watcher consumes quota updates: it evaluates each snapshot into a report,
// publishes metrics, appends to the journal and keeps the latest report for
// readers.
type Watcher struct {
	config    WatcherConfig
	source    UpdateSource
	evaluator *usecase.Evaluator
	journal   domain.SnapshotJournal // optional
	now       func() time.Time
	logger    *zap.Logger

	onReport func(domain.Report)
	onError  func(error)

	mu       sync.Mutex
	latest   *domain.Report
	latestAt time.Time
	lastErr  error
	changed  chan struct{} // closed and replaced after every handled update
}

// NewWatcher creates a new watcher daemon. journal may be nil.
func NewWatcher(
	config WatcherConfig,
	source UpdateSource,
	evaluator *usecase.Evaluator,
	journal domain.SnapshotJournal,
	logger *zap.Logger,
) *Watcher {
	if config.PruneInterval <= 0 {
		config.PruneInterval = DefaultWatcherConfig().PruneInterval
	}
	if config.Retention <= 0 {
		config.Retention = DefaultWatcherConfig().Retention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		config:    config,
		source:    source,
		evaluator: evaluator,
		journal:   journal,
		now:       time.Now,
		logger:    logger,
		changed:   make(chan struct{}),
	}
}

// OnReport registers a callback for every evaluated report. Set before Run.
func (w *Watcher) OnReport(fn func(domain.Report)) { w.onReport = fn }

// OnError registers a callback for every failed cycle. Set before Run.
func (w *Watcher) OnError(fn func(error)) { w.onError = fn }

// Run fetches once immediately, then handles updates until ctx is canceled
// or the update stream is closed.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher started",
		zap.Duration("prune_interval", w.config.PruneInterval),
		zap.Duration("retention", w.config.Retention))

	if _, err := w.source.Refresh(ctx); err != nil {
		w.logger.Warn("initial refresh failed", zap.Error(err))
	}

	w.prune(ctx)

	pruneTicker := time.NewTicker(w.config.PruneInterval)
	defer pruneTicker.Stop()

	updates := w.source.Updates()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			return ctx.Err()

		case u, ok := <-updates:
			if !ok {
				w.logger.Info("update stream closed, watcher stopping")
				return nil
			}
			w.handle(ctx, u)

		case <-pruneTicker.C:
			w.prune(ctx)
		}
	}
}

// handle processes one update.
func (w *Watcher) handle(ctx context.Context, u monitor.Update) {
	metrics.ObserveFetch(u.Err)
	metrics.SetConnectionState(w.source.Status().State.String())

	if u.Err != nil {
		if errors.Is(u.Err, domain.ErrServiceNotFound) {
			w.logger.Debug("language server not running", zap.Error(u.Err))
		} else {
			w.logger.Warn("quota fetch failed", zap.Error(u.Err))
		}
		w.mu.Lock()
		w.lastErr = u.Err
		w.broadcastLocked()
		w.mu.Unlock()

		if w.onError != nil {
			w.onError(u.Err)
		}
		return
	}

	report := w.evaluator.Evaluate(*u.Snapshot)
	metrics.ObserveReport(report)

	if w.journal != nil {
		if err := w.journal.Append(ctx, report); err != nil {
			w.logger.Warn("failed to append to journal", zap.Error(err))
		}
	}

	w.mu.Lock()
	w.latest = &report
	w.latestAt = report.Snapshot.CapturedAt
	w.lastErr = nil
	w.broadcastLocked()
	w.mu.Unlock()

	w.logger.Debug("report updated",
		zap.Int("groups", len(report.Groups)),
		zap.Int("other", len(report.Other)))

	if w.onReport != nil {
		w.onReport(report)
	}
}

func (w *Watcher) broadcastLocked() {
	close(w.changed)
	w.changed = make(chan struct{})
}

// prune removes journal entries older than the retention.
func (w *Watcher) prune(ctx context.Context) {
	if w.journal == nil {
		return
	}
	removed, err := w.journal.Prune(ctx, w.now().Add(-w.config.Retention))
	if err != nil {
		w.logger.Warn("journal prune failed", zap.Error(err))
		return
	}
	if removed > 0 {
		w.logger.Info("journal pruned", zap.Int64("removed", removed))
	}
}

// Latest returns the most recent report, if any.
func (w *Watcher) Latest() (domain.Report, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest == nil {
		return domain.Report{}, false
	}
	return *w.latest, true
}

// LastError returns the error of the most recent cycle, or nil after a success.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns the polling client's connection status.
func (w *Watcher) Status() monitor.Status {
	return w.source.Status()
}

// Refresh runs one out-of-band cycle and returns its report once Run has
// handled it. A failed cycle returns its error.
func (w *Watcher) Refresh(ctx context.Context) (domain.Report, error) {
	u, err := w.source.Refresh(ctx)
	if err != nil {
		return domain.Report{}, err
	}
	if u.Err != nil {
		return domain.Report{}, u.Err
	}
	return w.waitFor(ctx, u.Snapshot.CapturedAt)
}

// waitFor blocks until a report captured at or after at has been handled.
func (w *Watcher) waitFor(ctx context.Context, at time.Time) (domain.Report, error) {
	for {
		w.mu.Lock()
		if w.latest != nil && !w.latestAt.Before(at) {
			report := *w.latest
			w.mu.Unlock()
			return report, nil
		}
		ch := w.changed
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Report{}, ctx.Err()
		case <-ch:
		}
	}
}
