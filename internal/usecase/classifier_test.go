package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
	"github.com/eliteGoblin/focusd/quota_mon/internal/policy"
)

func frac(v float64) *float64 { return &v }

func item(label string, fraction *float64, reset time.Duration) domain.QuotaItem {
	return domain.QuotaItem{
		Label:             label,
		RemainingFraction: fraction,
		IsExhausted:       fraction != nil && *fraction == 0,
		TimeUntilReset:    reset,
	}
}

func TestClassifier_FirstMatchWins(t *testing.T) {
	c := NewClassifier(policy.DefaultGroups(), nil, DefaultUnknownRemainingPct)

	// "Pro" is evaluated before "flash", so a label matching both lands in pro.
	assert.Equal(t, 0, c.Match("Gemini 3 Pro (High)"))
	assert.Equal(t, 0, c.Match("Gemini 2.5 Flash Pro Preview"))
	assert.Equal(t, 1, c.Match("Gemini 3 Flash"))
	assert.Equal(t, 2, c.Match("Claude Opus 4.5 (Thinking)"))
	assert.Equal(t, 2, c.Match("GPT-OSS 120B (Medium)"))
	assert.Equal(t, -1, c.Match("Some Other Model"))
}

func TestClassifier_Classify(t *testing.T) {
	snap := domain.Snapshot{Items: []domain.QuotaItem{
		item("Gemini 3 Pro (High)", frac(0.6), 3*time.Hour),
		item("Gemini 3 Pro (Low)", frac(0.15), 6*time.Hour),
		item("Gemini 3 Flash", nil, time.Hour),
		item("Claude Sonnet 4.5", frac(0.35), 2*time.Hour),
		item("Mystery", frac(0.1), 0),
	}}
	settings := map[string]domain.GroupSettings{
		policy.GroupClaude: {Enabled: false, Limits: domain.Thresholds{Yellow: 50, Red: 30}},
	}
	c := NewClassifier(policy.DefaultGroups(), settings, DefaultUnknownRemainingPct)

	got := c.Classify(snap)
	require.Len(t, got.Groups, 3)

	pro := got.Groups[0]
	assert.Equal(t, policy.GroupPro, pro.ID)
	assert.Len(t, pro.Members, 2)
	assert.InDelta(t, 15.0, pro.WorstRemainingPct, 1e-9)
	assert.Equal(t, 6*time.Hour, pro.MaxResetIn)
	assert.Equal(t, domain.LightRed, pro.Light)
	assert.True(t, pro.Enabled)

	flash := got.Groups[1]
	assert.Len(t, flash.Members, 1)
	assert.Equal(t, 100.0, flash.WorstRemainingPct, "unknown fractions default to 100")
	assert.Equal(t, domain.LightGreen, flash.Light)

	claude := got.Groups[2]
	assert.InDelta(t, 35.0, claude.WorstRemainingPct, 1e-9)
	assert.Equal(t, domain.LightYellow, claude.Light, "group limits override defaults")
	assert.False(t, claude.Enabled)

	require.Len(t, got.Other, 1)
	assert.Equal(t, "Mystery", got.Other[0].Label)
}

func TestClassifier_EveryItemInAtMostOneGroup(t *testing.T) {
	labels := []string{"Gemini Pro Flash", "flash opus", "claude pro", "gpt", "none"}
	var items []domain.QuotaItem
	for _, l := range labels {
		items = append(items, item(l, frac(0.5), 0))
	}
	got := NewClassifier(policy.DefaultGroups(), nil, 100).Classify(domain.Snapshot{Items: items})

	total := len(got.Other)
	for _, g := range got.Groups {
		total += len(g.Members)
	}
	assert.Equal(t, len(labels), total)
}

func TestClassifier_ConfigurableUnknownDefault(t *testing.T) {
	snap := domain.Snapshot{Items: []domain.QuotaItem{item("Gemini 3 Flash", nil, 0)}}
	got := NewClassifier(policy.DefaultGroups(), nil, 0).Classify(snap)
	assert.Equal(t, 0.0, got.Groups[1].WorstRemainingPct)
	assert.Equal(t, domain.LightRed, got.Groups[1].Light)
}

func TestTrafficLight(t *testing.T) {
	th := domain.DefaultThresholds()
	tests := []struct {
		pct  float64
		want domain.Light
	}{
		{0, domain.LightRed},
		{20, domain.LightRed},
		{20.01, domain.LightYellow},
		{40, domain.LightYellow},
		{40.01, domain.LightGreen},
		{100, domain.LightGreen},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TrafficLight(tt.pct, th), "pct=%v", tt.pct)
	}
}

func TestTrafficLight_Property(t *testing.T) {
	for r := 0.0; r <= 100; r += 10 {
		for y := r; y <= 100; y += 10 {
			th := domain.Thresholds{Yellow: y, Red: r}
			for p := -5.0; p <= 105; p += 2.5 {
				got := TrafficLight(p, th)
				switch {
				case p <= r:
					assert.Equal(t, domain.LightRed, got)
				case p <= y:
					assert.Equal(t, domain.LightYellow, got)
				default:
					assert.Equal(t, domain.LightGreen, got)
				}
			}
		}
	}
}
