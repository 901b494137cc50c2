// Package policy defines the model groups quota items are classified into.
// Groups are evaluated in registration order and the first match wins, so
// more specific groups must be registered before broader ones.
package policy

import (
	"fmt"
	"strings"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// Normalize lowercases and trims patterns, dropping empty ones.
// DisplayName falls back to the ID.
func Normalize(def domain.GroupDefinition) domain.GroupDefinition {
	out := domain.GroupDefinition{
		ID:          strings.TrimSpace(def.ID),
		DisplayName: strings.TrimSpace(def.DisplayName),
	}
	if out.DisplayName == "" {
		out.DisplayName = out.ID
	}
	for _, p := range def.LabelPatterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out.LabelPatterns = append(out.LabelPatterns, p)
		}
	}
	return out
}

// Validate checks an ordered definition list: non-empty, unique IDs, at least
// one pattern per group.
func Validate(defs []domain.GroupDefinition) error {
	if len(defs) == 0 {
		return fmt.Errorf("%w: no group definitions", domain.ErrConfigInvalid)
	}
	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		d = Normalize(d)
		if d.ID == "" {
			return fmt.Errorf("%w: group #%d has no id", domain.ErrConfigInvalid, i+1)
		}
		if seen[d.ID] {
			return fmt.Errorf("%w: duplicate group id %q", domain.ErrConfigInvalid, d.ID)
		}
		seen[d.ID] = true
		if len(d.LabelPatterns) == 0 {
			return fmt.Errorf("%w: group %q has no label patterns", domain.ErrConfigInvalid, d.ID)
		}
	}
	return nil
}
