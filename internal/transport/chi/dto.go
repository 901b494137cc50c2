package chi

import (
	"time"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
	"github.com/eliteGoblin/focusd/quota_mon/internal/monitor"
	"github.com/eliteGoblin/focusd/quota_mon/internal/usecase"
)

type errorResponse struct {
	Message string `json:"message"`
}

type connection struct {
	State               string     `json:"state"`
	PID                 int        `json:"pid,omitempty"`
	Port                int        `json:"port,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

type statusResponse struct {
	Connection connection `json:"connection"`
	LastError  string     `json:"last_error,omitempty"`
	Report     *report    `json:"report,omitempty"`
}

type report struct {
	CapturedAt    time.Time             `json:"captured_at"`
	Plan          string                `json:"plan,omitempty"`
	PromptCredits *domain.CreditBalance `json:"prompt_credits,omitempty"`
	FlowCredits   *domain.CreditBalance `json:"flow_credits,omitempty"`
	Groups        []group               `json:"groups"`
	Other         []item                `json:"other"`
}

type group struct {
	ID                string  `json:"id"`
	DisplayName       string  `json:"display_name"`
	Enabled           bool    `json:"enabled"`
	WorstRemainingPct float64 `json:"worst_remaining_pct"`
	Light             string  `json:"light"`
	MaxResetSeconds   float64 `json:"max_reset_seconds"`
	ResetLabel        string  `json:"reset_label"`
	LongReset         bool    `json:"long_reset"`
	Members           []item  `json:"members"`
}

type item struct {
	Label        string     `json:"label"`
	ModelID      string     `json:"model_id,omitempty"`
	RemainingPct *float64   `json:"remaining_pct"`
	Exhausted    bool       `json:"exhausted"`
	ResetAt      *time.Time `json:"reset_at,omitempty"`
	ResetLabel   string     `json:"reset_label"`
}

type historyEntry struct {
	CapturedAt    time.Time             `json:"captured_at"`
	Plan          string                `json:"plan,omitempty"`
	PromptCredits *domain.CreditBalance `json:"prompt_credits,omitempty"`
	Groups        []domain.JournalGroup `json:"groups"`
}

func toConnection(s monitor.Status) connection {
	c := connection{
		State:               s.State.String(),
		PID:                 s.PID,
		Port:                s.Port,
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastError:           s.LastError,
	}
	if !s.LastSuccess.IsZero() {
		t := s.LastSuccess
		c.LastSuccess = &t
	}
	return c
}

func toReport(r domain.Report) report {
	out := report{
		CapturedAt:    r.Snapshot.CapturedAt,
		Plan:          r.Snapshot.Plan,
		PromptCredits: r.Snapshot.PromptCredits,
		FlowCredits:   r.Snapshot.FlowCredits,
		Groups:        make([]group, 0, len(r.Groups)),
		Other:         toItems(r.Other),
	}
	for _, g := range r.Groups {
		out.Groups = append(out.Groups, group{
			ID:                g.ID,
			DisplayName:       g.DisplayName,
			Enabled:           g.Enabled,
			WorstRemainingPct: g.WorstRemainingPct,
			Light:             string(g.Light),
			MaxResetSeconds:   g.MaxResetIn.Seconds(),
			ResetLabel:        groupResetLabel(g.GroupView),
			LongReset:         g.IsLongReset,
			Members:           toItems(g.Members),
		})
	}
	return out
}

func toItems(items []domain.QuotaItem) []item {
	out := make([]item, 0, len(items))
	for _, it := range items {
		dto := item{
			Label:      it.Label,
			ModelID:    it.ModelID,
			Exhausted:  it.IsExhausted,
			ResetLabel: resetLabel(it),
		}
		if pct, ok := it.RemainingPercentage(); ok {
			dto.RemainingPct = &pct
		}
		if !it.ResetAt.IsZero() {
			t := it.ResetAt
			dto.ResetAt = &t
		}
		out = append(out, dto)
	}
	return out
}

// Labels carry the countdown only; reset_at holds the moment.
func resetLabel(it domain.QuotaItem) string {
	if !it.ResetKnown() {
		return usecase.UnknownResetLabel
	}
	return usecase.FormatResetTime(it.TimeUntilReset, time.Time{}, time.UTC)
}

func groupResetLabel(g domain.GroupView) string {
	if len(g.Members) > 0 && !g.ResetKnown() {
		return usecase.UnknownResetLabel
	}
	return usecase.FormatResetTime(g.MaxResetIn, time.Time{}, time.UTC)
}
