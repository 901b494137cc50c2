package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// flexNumber accepts a JSON number or a numeric string. Set reports presence.
type flexNumber struct {
	Value float64
	Set   bool
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		n.Value, n.Set = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	n.Value, n.Set = v, true
	return nil
}

type statusResponse struct {
	UserStatus *struct {
		PlanStatus *struct {
			PlanInfo *struct {
				PlanName             string     `json:"planName"`
				MonthlyPromptCredits flexNumber `json:"monthlyPromptCredits"`
				MonthlyFlowCredits   flexNumber `json:"monthlyFlowCredits"`
			} `json:"planInfo"`
			AvailablePromptCredits flexNumber `json:"availablePromptCredits"`
			AvailableFlowCredits   flexNumber `json:"availableFlowCredits"`
		} `json:"planStatus"`
		CascadeModelConfigData *struct {
			ClientModelConfigs []modelConfig `json:"clientModelConfigs"`
		} `json:"cascadeModelConfigData"`
	} `json:"userStatus"`
}

type modelConfig struct {
	Label        string `json:"label"`
	ModelOrAlias struct {
		Model string `json:"model"`
	} `json:"modelOrAlias"`
	QuotaInfo *struct {
		RemainingFraction flexNumber `json:"remainingFraction"`
		ResetTime         string     `json:"resetTime"`
	} `json:"quotaInfo"`
}

// StatusParser implements domain.SnapshotParser for the GetUserStatus payload.
type StatusParser struct{}

// NewStatusParser creates a parser.
func NewStatusParser() *StatusParser {
	return &StatusParser{}
}

// Parse builds a Snapshot. Models without quota information are dropped;
// an absent fraction stays unknown. Credit balances exist only when both the
// monthly allocation and the available balance are reported and monthly > 0.
func (p *StatusParser) Parse(raw []byte, now time.Time) (domain.Snapshot, error) {
	var resp statusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", domain.ErrResponseMalformed, err)
	}
	if resp.UserStatus == nil {
		return domain.Snapshot{}, fmt.Errorf("%w: missing userStatus", domain.ErrResponseMalformed)
	}

	snap := domain.Snapshot{CapturedAt: now}

	if ps := resp.UserStatus.PlanStatus; ps != nil && ps.PlanInfo != nil {
		snap.Plan = ps.PlanInfo.PlanName
		snap.PromptCredits = creditBalance(ps.AvailablePromptCredits, ps.PlanInfo.MonthlyPromptCredits)
		snap.FlowCredits = creditBalance(ps.AvailableFlowCredits, ps.PlanInfo.MonthlyFlowCredits)
	}

	if data := resp.UserStatus.CascadeModelConfigData; data != nil {
		for _, m := range data.ClientModelConfigs {
			if m.QuotaInfo == nil {
				continue
			}
			item := domain.QuotaItem{
				Label:   m.Label,
				ModelID: m.ModelOrAlias.Model,
			}
			if f := m.QuotaInfo.RemainingFraction; f.Set {
				v := min(max(f.Value, 0), 1)
				item.RemainingFraction = &v
				item.IsExhausted = v == 0
			}
			if m.QuotaInfo.ResetTime != "" {
				if at, err := time.Parse(time.RFC3339, m.QuotaInfo.ResetTime); err == nil {
					item.ResetAt = at
					item.TimeUntilReset = at.Sub(now)
				}
			}
			snap.Items = append(snap.Items, item)
		}
	}

	return snap, nil
}

func creditBalance(available, monthly flexNumber) *domain.CreditBalance {
	if !available.Set || !monthly.Set {
		return nil
	}
	return domain.NewCreditBalance(available.Value, monthly.Value)
}

// Ensure StatusParser implements domain.SnapshotParser.
var _ domain.SnapshotParser = (*StatusParser)(nil)
