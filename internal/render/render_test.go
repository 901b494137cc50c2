package render

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
	"github.com/eliteGoblin/focusd/quota_mon/internal/monitor"
)

func frac(f float64) *float64 { return &f }

func testReport() domain.Report {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Report{
		Snapshot: domain.Snapshot{
			CapturedAt:    at,
			Plan:          "Pro",
			PromptCredits: domain.NewCreditBalance(250, 1000),
		},
		Groups: []domain.GroupStatus{
			{
				GroupView: domain.GroupView{
					ID:          "pro",
					DisplayName: "Gemini Pro",
					Members: []domain.QuotaItem{{
						Label:             "Gemini 3 Pro (High)",
						RemainingFraction: frac(0.35),
						TimeUntilReset:    6*time.Hour + 5*time.Minute,
						ResetAt:           at.Add(6*time.Hour + 5*time.Minute),
					}},
					WorstRemainingPct: 35,
					MaxResetIn:        6*time.Hour + 5*time.Minute,
					Light:             domain.LightYellow,
					Enabled:           true,
				},
				IsLongReset: true,
			},
			{
				GroupView: domain.GroupView{ID: "flash", DisplayName: "Gemini Flash", WorstRemainingPct: 100, Light: domain.LightGreen, Enabled: true},
			},
			{
				GroupView: domain.GroupView{ID: "claude", DisplayName: "Claude / GPT", Enabled: false},
			},
		},
		Other: []domain.QuotaItem{{Label: "Zeta"}, {Label: "Alpha"}},
	}
}

func TestRenderer_Report(t *testing.T) {
	var buf bytes.Buffer
	New(time.UTC, true).Report(&buf, testReport())
	out := buf.String()

	assert.Contains(t, out, "Quota at 2026-03-01 12:00:00  [Pro]")
	assert.Contains(t, out, "Gemini Pro")
	assert.Contains(t, out, "35%")
	assert.Contains(t, out, "6h 05m (03/01 18:05)")
	assert.Contains(t, out, "long reset")
	assert.Contains(t, out, "Gemini Flash")
	assert.Contains(t, out, "n/a")
	assert.NotContains(t, out, "Claude / GPT")
	assert.Contains(t, out, "Prompt credits")
	assert.Contains(t, out, "(250 / 1000)")
	assert.Contains(t, out, "other: Alpha, Zeta")
	assert.NotContains(t, out, "Flow credits")
}

func TestRenderer_Unavailable(t *testing.T) {
	var buf bytes.Buffer
	New(time.UTC, true).Unavailable(&buf, errors.New("service not found"))
	assert.Equal(t, "✗ language server unavailable: service not found\n", buf.String())
}

func TestRenderer_Status(t *testing.T) {
	var buf bytes.Buffer
	New(time.UTC, true).Status(&buf, monitor.Status{State: monitor.StateConnected, PID: 42, Port: 4100})
	assert.Equal(t, "connection: connected  pid=42 port=4100\n", buf.String())

	buf.Reset()
	New(time.UTC, true).Status(&buf, monitor.Status{State: monitor.StateDisconnected, ConsecutiveFailures: 3})
	assert.Equal(t, "connection: disconnected  failures=3\n", buf.String())
}

func TestRenderer_Journal(t *testing.T) {
	var buf bytes.Buffer
	r := New(time.UTC, true)

	r.Journal(&buf, nil)
	assert.Equal(t, "no history\n", buf.String())

	buf.Reset()
	r.Journal(&buf, []domain.JournalEntry{{
		CapturedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Groups: []domain.JournalGroup{
			{ID: "pro", WorstRemainingPct: 12, Light: domain.LightRed, IsLongReset: true},
			{ID: "flash", WorstRemainingPct: 100, Light: domain.LightGreen},
		},
	}})
	assert.Equal(t, "03/01 09:30  pro  12%⏳  flash 100%", strings.TrimSpace(buf.String()))
}

func TestLightColor(t *testing.T) {
	assert.Equal(t, colorRed, LightColor(domain.LightRed))
	assert.Equal(t, colorYellow, LightColor(domain.LightYellow))
	assert.Equal(t, colorGreen, LightColor(domain.LightGreen))
}

func TestRenderer_UnknownReset(t *testing.T) {
	report := testReport()
	report.Groups[0].Members[0].ResetAt = time.Time{}
	report.Groups[0].Members[0].TimeUntilReset = 0
	report.Groups[0].MaxResetIn = 0

	var buf bytes.Buffer
	New(time.UTC, true).Report(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "Unknown")
	assert.NotContains(t, out, "Ready")
}
