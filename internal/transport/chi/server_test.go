package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
	"github.com/eliteGoblin/focusd/quota_mon/internal/monitor"
)

type mockSource struct {
	latest     *domain.Report
	lastErr    error
	status     monitor.Status
	refreshed  domain.Report
	refreshErr error
}

func (m *mockSource) Latest() (domain.Report, bool) {
	if m.latest == nil {
		return domain.Report{}, false
	}
	return *m.latest, true
}

func (m *mockSource) LastError() error       { return m.lastErr }
func (m *mockSource) Status() monitor.Status { return m.status }

func (m *mockSource) Refresh(ctx context.Context) (domain.Report, error) {
	return m.refreshed, m.refreshErr
}

type mockJournal struct {
	entries []domain.JournalEntry
	err     error
	limit   int
}

func (m *mockJournal) Append(ctx context.Context, r domain.Report) error { return nil }

func (m *mockJournal) Recent(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	m.limit = limit
	if limit < len(m.entries) {
		return m.entries[:limit], m.err
	}
	return m.entries, m.err
}

func (m *mockJournal) Prune(ctx context.Context, before time.Time) (int64, error) { return 0, nil }
func (m *mockJournal) Close() error                                               { return nil }

func frac(f float64) *float64 { return &f }

func sampleReport() domain.Report {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Report{
		Snapshot: domain.Snapshot{CapturedAt: at, Plan: "Pro", PromptCredits: domain.NewCreditBalance(500, 1000)},
		Groups: []domain.GroupStatus{{
			GroupView: domain.GroupView{
				ID:          "pro",
				DisplayName: "Gemini Pro",
				Members: []domain.QuotaItem{{
					Label:             "Gemini 3 Pro (High)",
					RemainingFraction: frac(0.25),
					TimeUntilReset:    90 * time.Minute,
					ResetAt:           at.Add(90 * time.Minute),
				}},
				WorstRemainingPct: 25,
				MaxResetIn:        90 * time.Minute,
				Light:             domain.LightYellow,
				Enabled:           true,
			},
		}},
		Other: []domain.QuotaItem{{Label: "Mystery"}},
	}
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, http.NoBody))
	return rr
}

func TestServer_Health(t *testing.T) {
	src := &mockSource{status: monitor.Status{State: monitor.StateConnected}}
	rr := do(t, NewServer(src, nil, nil).Router(), http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","connection":"connected"}`, rr.Body.String())
}

func TestServer_Status(t *testing.T) {
	report := sampleReport()
	src := &mockSource{
		latest: &report,
		status: monitor.Status{State: monitor.StateConnected, PID: 7, Port: 4100, LastSuccess: report.Snapshot.CapturedAt},
	}

	rr := do(t, NewServer(src, nil, nil).Router(), http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))

	conn := body["connection"].(map[string]any)
	assert.Equal(t, "connected", conn["state"])
	assert.Equal(t, 4100.0, conn["port"])

	rep := body["report"].(map[string]any)
	assert.Equal(t, "Pro", rep["plan"])
	groups := rep["groups"].([]any)
	require.Len(t, groups, 1)
	g := groups[0].(map[string]any)
	assert.Equal(t, "yellow", g["light"])
	assert.Equal(t, "1h 30m", g["reset_label"])
	assert.Equal(t, 5400.0, g["max_reset_seconds"])

	member := g["members"].([]any)[0].(map[string]any)
	assert.Equal(t, 25.0, member["remaining_pct"])

	other := rep["other"].([]any)[0].(map[string]any)
	assert.Nil(t, other["remaining_pct"])
	assert.Equal(t, "Unknown", other["reset_label"])
}

func TestServer_StatusUnknownReset(t *testing.T) {
	report := sampleReport()
	report.Groups[0].Members[0].ResetAt = time.Time{}
	report.Groups[0].Members[0].TimeUntilReset = 0
	report.Groups[0].MaxResetIn = 0
	src := &mockSource{latest: &report}

	rr := do(t, NewServer(src, nil, nil).Router(), http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Report struct {
			Groups []struct {
				ResetLabel string `json:"reset_label"`
				Members    []struct {
					ResetLabel string     `json:"reset_label"`
					ResetAt    *time.Time `json:"reset_at"`
				} `json:"members"`
			} `json:"groups"`
		} `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Report.Groups, 1)
	assert.Equal(t, "Unknown", body.Report.Groups[0].ResetLabel)
	assert.Equal(t, "Unknown", body.Report.Groups[0].Members[0].ResetLabel)
	assert.Nil(t, body.Report.Groups[0].Members[0].ResetAt)
}

func TestServer_StatusWithoutReport(t *testing.T) {
	src := &mockSource{
		status:  monitor.Status{State: monitor.StateDisconnected, ConsecutiveFailures: 2},
		lastErr: domain.ErrServiceNotFound,
	}
	rr := do(t, NewServer(src, nil, nil).Router(), http.MethodGet, "/status")

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.NotContains(t, body, "report")
	assert.Equal(t, domain.ErrServiceNotFound.Error(), body["last_error"])
}

func TestServer_Refresh(t *testing.T) {
	src := &mockSource{refreshed: sampleReport()}
	rr := do(t, NewServer(src, nil, nil).Router(), http.MethodPost, "/refresh")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"captured_at":"2026-03-01T12:00:00Z"`)
}

func TestServer_RefreshErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: nothing running", domain.ErrServiceNotFound), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: reset", domain.ErrConnectionLost), http.StatusServiceUnavailable},
		{domain.ErrResponseMalformed, http.StatusBadGateway},
		{fmt.Errorf("%w: 500", domain.ErrUnexpectedStatus), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			src := &mockSource{refreshErr: tt.err}
			rr := do(t, NewServer(src, nil, nil).Router(), http.MethodPost, "/refresh")
			assert.Equal(t, tt.want, rr.Code)
			assert.Contains(t, rr.Body.String(), `"message"`)
		})
	}
}

func TestServer_RefreshFailureLogsRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	src := &mockSource{refreshErr: domain.ErrServiceNotFound}

	rr := do(t, NewServer(src, nil, zap.New(core)).Router(), http.MethodPost, "/refresh")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	entries := logs.FilterMessage("manual refresh failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.NotEmpty(t, fields["request_id"])
	assert.Equal(t, "/refresh", fields["path"])
	assert.EqualValues(t, http.StatusServiceUnavailable, fields["status"])
}

func TestServer_RefreshRequiresPost(t *testing.T) {
	rr := do(t, NewServer(&mockSource{}, nil, nil).Router(), http.MethodGet, "/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestServer_History(t *testing.T) {
	journal := &mockJournal{entries: []domain.JournalEntry{
		{CapturedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), Groups: []domain.JournalGroup{{ID: "pro", WorstRemainingPct: 20, Light: domain.LightRed}}},
		{CapturedAt: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)},
	}}
	h := NewServer(&mockSource{}, journal, nil).Router()

	rr := do(t, h, http.MethodGet, "/history?limit=1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, journal.limit)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "red", entries[0]["groups"].([]any)[0].(map[string]any)["light"])

	do(t, h, http.MethodGet, "/history")
	assert.Equal(t, defaultHistoryLimit, journal.limit)

	do(t, h, http.MethodGet, "/history?limit=999999")
	assert.Equal(t, maxHistoryLimit, journal.limit)

	rr = do(t, h, http.MethodGet, "/history?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServer_HistoryErrors(t *testing.T) {
	rr := do(t, NewServer(&mockSource{}, nil, nil).Router(), http.MethodGet, "/history")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	journal := &mockJournal{err: errors.New("locked")}
	rr = do(t, NewServer(&mockSource{}, journal, nil).Router(), http.MethodGet, "/history")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestServer_Metrics(t *testing.T) {
	rr := do(t, NewServer(&mockSource{}, nil, nil).Router(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain"))
}
