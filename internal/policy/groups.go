package policy

import "github.com/eliteGoblin/focusd/quota_mon/internal/domain"

// Built-in group IDs.
const (
	GroupPro    = "pro"
	GroupFlash  = "flash"
	GroupClaude = "claude"
)

// ProGroup matches the Gemini Pro tiers, e.g. "Gemini 3 Pro (High)".
func ProGroup() domain.GroupDefinition {
	return domain.GroupDefinition{
		ID:            GroupPro,
		DisplayName:   "Gemini Pro",
		LabelPatterns: []string{"pro"},
	}
}

// FlashGroup matches the Gemini Flash models.
func FlashGroup() domain.GroupDefinition {
	return domain.GroupDefinition{
		ID:            GroupFlash,
		DisplayName:   "Gemini Flash",
		LabelPatterns: []string{"flash"},
	}
}

// ClaudeGroup collects the third-party models sharing one pool.
func ClaudeGroup() domain.GroupDefinition {
	return domain.GroupDefinition{
		ID:            GroupClaude,
		DisplayName:   "Claude / GPT",
		LabelPatterns: []string{"claude", "gpt", "sonnet", "opus"},
	}
}

// DefaultGroups returns the built-in groups in priority order.
func DefaultGroups() []domain.GroupDefinition {
	return []domain.GroupDefinition{ProGroup(), FlashGroup(), ClaudeGroup()}
}
