// Package metrics exposes quota reports as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// Quota Prometheus metrics.
var (
	GroupRemainingPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "quotamon",
			Name:      "group_remaining_percent",
			Help:      "Worst remaining quota in a model group, in percent",
		},
		[]string{"group"},
	)

	GroupResetSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "quotamon",
			Name:      "group_reset_seconds",
			Help:      "Longest time until a member of the group resets",
		},
		[]string{"group"},
	)

	GroupLight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "quotamon",
			Name:      "group_light",
			Help:      "Traffic light of a group: 0 green, 1 yellow, 2 red",
		},
		[]string{"group"},
	)

	GroupLongReset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "quotamon",
			Name:      "group_long_reset",
			Help:      "1 while the sticky long-reset alert of a group is active",
		},
		[]string{"group"},
	)

	CreditsRemainingPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "quotamon",
			Name:      "credits_remaining_percent",
			Help:      "Remaining credits in percent of the monthly allowance",
		},
		[]string{"pool"}, // "prompt" / "flow"
	)

	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotamon",
			Name:      "fetches_total",
			Help:      "Status fetch cycles by result",
		},
		[]string{"result"}, // "ok" / "error"
	)

	ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "quotamon",
			Name:      "connection_state",
			Help:      "1 for the current connection state of the polling client",
		},
		[]string{"state"},
	)
)

var quotaMetricsRegistered bool

// RegisterQuotaMetrics registers the quota metrics. Must be called once from main.
func RegisterQuotaMetrics() {
	if quotaMetricsRegistered {
		return
	}
	prometheus.MustRegister(GroupRemainingPercent)
	prometheus.MustRegister(GroupResetSeconds)
	prometheus.MustRegister(GroupLight)
	prometheus.MustRegister(GroupLongReset)
	prometheus.MustRegister(CreditsRemainingPercent)
	prometheus.MustRegister(FetchesTotal)
	prometheus.MustRegister(ConnectionState)
	quotaMetricsRegistered = true
}

// LightValue maps a traffic light to its gauge value.
func LightValue(l domain.Light) float64 {
	switch l {
	case domain.LightYellow:
		return 1
	case domain.LightRed:
		return 2
	default:
		return 0
	}
}

// ObserveReport publishes the figures of one report. Disabled groups are skipped.
func ObserveReport(r domain.Report) {
	for _, g := range r.Groups {
		if !g.Enabled {
			GroupRemainingPercent.DeleteLabelValues(g.ID)
			GroupResetSeconds.DeleteLabelValues(g.ID)
			GroupLight.DeleteLabelValues(g.ID)
			GroupLongReset.DeleteLabelValues(g.ID)
			continue
		}
		GroupRemainingPercent.WithLabelValues(g.ID).Set(g.WorstRemainingPct)
		GroupResetSeconds.WithLabelValues(g.ID).Set(g.MaxResetIn.Seconds())
		GroupLight.WithLabelValues(g.ID).Set(LightValue(g.Light))
		GroupLongReset.WithLabelValues(g.ID).Set(boolValue(g.IsLongReset))
	}

	observeCredits("prompt", r.Snapshot.PromptCredits)
	observeCredits("flow", r.Snapshot.FlowCredits)
}

func observeCredits(pool string, c *domain.CreditBalance) {
	if c == nil {
		CreditsRemainingPercent.DeleteLabelValues(pool)
		return
	}
	CreditsRemainingPercent.WithLabelValues(pool).Set(c.RemainingPercentage)
}

// ObserveFetch counts one fetch cycle.
func ObserveFetch(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	FetchesTotal.WithLabelValues(result).Inc()
}

// SetConnectionState marks state as the current connection state.
func SetConnectionState(state string) {
	ConnectionState.Reset()
	ConnectionState.WithLabelValues(state).Set(1)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
