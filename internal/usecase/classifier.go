package usecase

import (
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// DefaultUnknownRemainingPct is the worst-case figure of a group with no known fraction.
const DefaultUnknownRemainingPct = 100.0

// Classifier partitions quota items into ordered groups. Stateless per call.
type Classifier struct {
	groups         []domain.GroupDefinition
	settings       map[string]domain.GroupSettings
	unknownDefault float64
}

// NewClassifier creates a classifier. Groups are matched in the given order;
// groups missing from settings use domain.DefaultGroupSettings.
func NewClassifier(groups []domain.GroupDefinition, settings map[string]domain.GroupSettings, unknownDefault float64) *Classifier {
	return &Classifier{
		groups:         groups,
		settings:       settings,
		unknownDefault: unknownDefault,
	}
}

// Settings returns the effective settings of a group.
func (c *Classifier) Settings(id string) domain.GroupSettings {
	if s, ok := c.settings[id]; ok {
		return s
	}
	return domain.DefaultGroupSettings()
}

// Match returns the index of the first group whose pattern is a substring of
// label (case-insensitive), or -1.
func (c *Classifier) Match(label string) int {
	lower := strings.ToLower(label)
	for i, g := range c.groups {
		for _, p := range g.LabelPatterns {
			if p != "" && strings.Contains(lower, strings.ToLower(p)) {
				return i
			}
		}
	}
	return -1
}

// Classify builds one GroupView per definition, in definition order.
// Every item lands in at most one group; unmatched items go to Other.
func (c *Classifier) Classify(snap domain.Snapshot) domain.Classification {
	views := make([]domain.GroupView, len(c.groups))
	for i, g := range c.groups {
		views[i] = domain.GroupView{
			ID:          g.ID,
			DisplayName: g.DisplayName,
			Enabled:     c.Settings(g.ID).Enabled,
		}
	}

	var other []domain.QuotaItem
	for _, item := range snap.Items {
		i := c.Match(item.Label)
		if i < 0 {
			other = append(other, item)
			continue
		}
		views[i].Members = append(views[i].Members, item)
	}

	for i := range views {
		v := &views[i]
		v.WorstRemainingPct = c.worst(v.Members)
		v.MaxResetIn = maxReset(v.Members)
		v.Light = TrafficLight(v.WorstRemainingPct, c.Settings(v.ID).Limits)
	}

	return domain.Classification{Groups: views, Other: other}
}

func (c *Classifier) worst(items []domain.QuotaItem) float64 {
	worst, known := 0.0, false
	for _, item := range items {
		pct, ok := item.RemainingPercentage()
		if !ok {
			continue
		}
		if !known || pct < worst {
			worst, known = pct, true
		}
	}
	if !known {
		return c.unknownDefault
	}
	return worst
}

func maxReset(items []domain.QuotaItem) time.Duration {
	var longest time.Duration
	for _, item := range items {
		if item.TimeUntilReset > longest {
			longest = item.TimeUntilReset
		}
	}
	return longest
}

// TrafficLight maps a percentage to a colour. Limits are "at or below".
func TrafficLight(pct float64, limits domain.Thresholds) domain.Light {
	switch {
	case pct <= limits.Red:
		return domain.LightRed
	case pct <= limits.Yellow:
		return domain.LightYellow
	default:
		return domain.LightGreen
	}
}
