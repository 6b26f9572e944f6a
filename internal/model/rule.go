package model

import (
	"encoding/json"
	"sort"
	"time"
)

// PlatformCondition matches a client platform and, optionally, an inclusive
// app-version range. Empty bounds are unbounded.
type PlatformCondition struct {
	Platform   string `json:"platform"`
	MinVersion string `json:"min_version,omitempty"`
	MaxVersion string `json:"max_version,omitempty"`
}

// RuleSpec is the user-editable content of a rule.
//
// Condition groups are AND-combined with each other. Inside a group the
// entries are OR-combined, and an empty group matches every client.
type RuleSpec struct {
	Priority      int                 `json:"priority"`
	Enabled       bool                `json:"enabled"`
	OverrideValue json.RawMessage     `json:"override_value"`
	Platforms     []PlatformCondition `json:"platforms,omitempty"`
	Countries     []string            `json:"countries,omitempty"`
	Segments      []string            `json:"segments,omitempty"`
	ActiveFrom    *time.Time          `json:"active_from,omitempty"`
	ActiveUntil   *time.Time          `json:"active_until,omitempty"`
	Description   string              `json:"description,omitempty"`
}

// Rule is a prioritized conditional override owned by exactly one Config.
type Rule struct {
	ID       string `json:"id"`
	ConfigID string `json:"config_id"`
	RuleSpec
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the spec.
func (s RuleSpec) Clone() RuleSpec {
	out := s
	out.OverrideValue = cloneRaw(s.OverrideValue)
	if s.Platforms != nil {
		out.Platforms = append([]PlatformCondition(nil), s.Platforms...)
	}
	if s.Countries != nil {
		out.Countries = append([]string(nil), s.Countries...)
	}
	if s.Segments != nil {
		out.Segments = append([]string(nil), s.Segments...)
	}
	if s.ActiveFrom != nil {
		t := *s.ActiveFrom
		out.ActiveFrom = &t
	}
	if s.ActiveUntil != nil {
		t := *s.ActiveUntil
		out.ActiveUntil = &t
	}
	return out
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	out := *r
	out.RuleSpec = r.RuleSpec.Clone()
	return &out
}

// SortRules returns a copy of rules ordered by (priority, id).
func SortRules(rules []*Rule) []*Rule {
	out := append([]*Rule(nil), rules...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ReorderEntry assigns a new priority to one rule.
type ReorderEntry struct {
	RuleID   string `json:"rule_id"`
	Priority int    `json:"priority"`
}
