package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
	"github.com/eliteGoblin/focusd/quota_mon/internal/monitor"
	"github.com/eliteGoblin/focusd/quota_mon/internal/policy"
	"github.com/eliteGoblin/focusd/quota_mon/internal/usecase"
)

// mockSource emits queued updates on Refresh, like the real client does.
type mockSource struct {
	mu       sync.Mutex
	updates  chan monitor.Update
	queue    []monitor.Update
	refreshN int
	status   monitor.Status
}

func newMockSource(queue ...monitor.Update) *mockSource {
	return &mockSource{updates: make(chan monitor.Update, 16), queue: queue}
}

func (m *mockSource) Updates() <-chan monitor.Update { return m.updates }

func (m *mockSource) Refresh(ctx context.Context) (monitor.Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshN++
	if len(m.queue) == 0 {
		return monitor.Update{}, domain.ErrClientClosed
	}
	u := m.queue[0]
	m.queue = m.queue[1:]
	m.updates <- u
	return u, nil
}

func (m *mockSource) Status() monitor.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockSource) push(u monitor.Update) { m.updates <- u }

// mockJournal records appends and prunes.
type mockJournal struct {
	mu        sync.Mutex
	appended  []domain.Report
	pruneCuts []time.Time
	appendErr error
}

func (m *mockJournal) Append(ctx context.Context, r domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, r)
	return m.appendErr
}

func (m *mockJournal) Recent(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	return nil, nil
}

func (m *mockJournal) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneCuts = append(m.pruneCuts, before)
	return 0, nil
}

func (m *mockJournal) Close() error { return nil }

func (m *mockJournal) appends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appended)
}

func frac(f float64) *float64 { return &f }

func snapshotUpdate(at time.Time, proFrac float64, reset time.Duration) monitor.Update {
	snap := &domain.Snapshot{
		CapturedAt: at,
		Items: []domain.QuotaItem{
			{Label: "Gemini 3 Pro (High)", RemainingFraction: frac(proFrac), TimeUntilReset: reset},
			{Label: "Gemini 3 Flash", RemainingFraction: frac(1), TimeUntilReset: time.Hour},
		},
	}
	return monitor.Update{Snapshot: snap, At: at}
}

func newTestWatcher(src *mockSource, j domain.SnapshotJournal) *Watcher {
	evaluator := usecase.NewEvaluator(usecase.NewClassifier(policy.DefaultGroups(), nil, usecase.DefaultUnknownRemainingPct), nil)
	return NewWatcher(DefaultWatcherConfig(), src, evaluator, j, nil)
}

func runWatcher(t *testing.T, w *Watcher) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestDefaultWatcherConfig(t *testing.T) {
	config := DefaultWatcherConfig()

	assert.Equal(t, time.Hour, config.PruneInterval)
	assert.Equal(t, 30*24*time.Hour, config.Retention)
}

func TestWatcher_InitialRefreshProducesReport(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := newMockSource(snapshotUpdate(base, 0.3, 6*time.Hour))
	journal := &mockJournal{}
	w := newTestWatcher(src, journal)

	var (
		mu      sync.Mutex
		reports []domain.Report
	)
	w.OnReport(func(r domain.Report) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, r)
	})

	runWatcher(t, w)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reports) == 1
	}, time.Second, 5*time.Millisecond)

	report, ok := w.Latest()
	require.True(t, ok)
	require.Len(t, report.Groups, 3)
	pro := report.Groups[0]
	assert.Equal(t, "pro", pro.ID)
	assert.InDelta(t, 30.0, pro.WorstRemainingPct, 1e-9)
	assert.Equal(t, domain.LightYellow, pro.Light)
	assert.True(t, pro.IsLongReset)

	assert.Equal(t, 1, journal.appends())
	assert.NoError(t, w.LastError())
}

func TestWatcher_ErrorUpdateKeepsLastReport(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := newMockSource(snapshotUpdate(base, 0.9, time.Hour))
	w := newTestWatcher(src, nil)

	var errs []error
	var mu sync.Mutex
	w.OnError(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	})

	runWatcher(t, w)
	require.Eventually(t, func() bool { _, ok := w.Latest(); return ok }, time.Second, 5*time.Millisecond)

	fetchErr := errors.New("boom")
	src.push(monitor.Update{Err: fetchErr, At: base.Add(time.Minute)})

	require.Eventually(t, func() bool { return w.LastError() != nil }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, w.LastError(), fetchErr)

	report, ok := w.Latest()
	assert.True(t, ok)
	assert.True(t, report.Snapshot.CapturedAt.Equal(base))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWatcher_AlertStatePersistsAcrossUpdates(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := newMockSource(snapshotUpdate(base, 0.5, 6*time.Hour))
	w := newTestWatcher(src, nil)
	runWatcher(t, w)

	require.Eventually(t, func() bool { _, ok := w.Latest(); return ok }, time.Second, 5*time.Millisecond)

	// Countdown drops below activation but never dips under recovery: alert stays.
	src.push(snapshotUpdate(base.Add(time.Hour), 0.5, 4*time.Hour+30*time.Minute))

	require.Eventually(t, func() bool {
		r, _ := w.Latest()
		return r.Snapshot.CapturedAt.Equal(base.Add(time.Hour))
	}, time.Second, 5*time.Millisecond)

	report, _ := w.Latest()
	assert.True(t, report.Groups[0].IsLongReset)
}

func TestWatcher_RefreshWaitsForHandledReport(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := newMockSource(
		snapshotUpdate(base, 0.9, time.Hour),
		snapshotUpdate(base.Add(time.Minute), 0.1, time.Hour),
	)
	w := newTestWatcher(src, nil)
	runWatcher(t, w)

	require.Eventually(t, func() bool { _, ok := w.Latest(); return ok }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	report, err := w.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, report.Snapshot.CapturedAt.Equal(base.Add(time.Minute)))
	assert.Equal(t, domain.LightRed, report.Groups[0].Light)
}

func TestWatcher_RefreshReturnsCycleError(t *testing.T) {
	fetchErr := errors.New("malformed")
	src := newMockSource(monitor.Update{Err: fetchErr})
	w := newTestWatcher(src, nil)

	_, err := w.Refresh(context.Background())
	assert.ErrorIs(t, err, fetchErr)
}

func TestWatcher_RefreshHonoursContext(t *testing.T) {
	// No Run loop: the update is never handled.
	src := newMockSource(snapshotUpdate(time.Now(), 1, time.Hour))
	w := newTestWatcher(src, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := w.Refresh(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWatcher_StopsWhenStreamCloses(t *testing.T) {
	src := newMockSource()
	w := newTestWatcher(src, nil)
	_, done := runWatcher(t, w)

	close(src.updates)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	src := newMockSource()
	w := newTestWatcher(src, nil)
	cancel, done := runWatcher(t, w)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_PrunesOnStart(t *testing.T) {
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	journal := &mockJournal{}
	w := newTestWatcher(newMockSource(), journal)
	w.now = func() time.Time { return now }

	runWatcher(t, w)

	require.Eventually(t, func() bool {
		journal.mu.Lock()
		defer journal.mu.Unlock()
		return len(journal.pruneCuts) == 1
	}, time.Second, 5*time.Millisecond)

	journal.mu.Lock()
	defer journal.mu.Unlock()
	assert.True(t, journal.pruneCuts[0].Equal(now.Add(-30*24*time.Hour)))
}

func TestWatcher_JournalFailureDoesNotBlockReport(t *testing.T) {
	src := newMockSource(snapshotUpdate(time.Now(), 0.5, time.Hour))
	journal := &mockJournal{appendErr: errors.New("disk full")}
	w := newTestWatcher(src, journal)
	runWatcher(t, w)

	require.Eventually(t, func() bool { _, ok := w.Latest(); return ok }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, journal.appends())
}
