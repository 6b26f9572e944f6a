package model

import (
	"bytes"
	"encoding/json"
	"slices"
	"time"
)

// ChangeType classifies a history entry.
type ChangeType string

const (
	ChangeConfigCreated    ChangeType = "config.created"
	ChangeConfigUpdated    ChangeType = "config.updated"
	ChangeConfigDeleted    ChangeType = "config.deleted"
	ChangeConfigRolledBack ChangeType = "config.rolled_back"
	ChangeRuleCreated      ChangeType = "rule.created"
	ChangeRuleUpdated      ChangeType = "rule.updated"
	ChangeRuleDeleted      ChangeType = "rule.deleted"
	ChangeRulesReordered   ChangeType = "rules.reordered"
	ChangeDraftDeployed    ChangeType = "draft.deployed"
)

// String returns the string representation of the change type.
func (c ChangeType) String() string {
	return string(c)
}

// HistoryEntry is one immutable record in the audit log. Previous is nil for
// creations and New is nil for deletions. RuleIDs lists every rule the change
// created, modified or removed; RuleID names the rule of a single-rule change.
type HistoryEntry struct {
	ID          int64        `json:"id"`
	ConfigID    string       `json:"config_id"`
	RuleID      string       `json:"rule_id,omitempty"`
	RuleIDs     []string     `json:"rule_ids,omitempty"`
	GameID      string       `json:"game_id"`
	Environment Environment  `json:"environment"`
	Key         string       `json:"key"`
	ChangeType  ChangeType   `json:"change_type"`
	Previous    *ConfigState `json:"previous,omitempty"`
	New         *ConfigState `json:"new,omitempty"`
	Actor       string       `json:"actor,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	DraftID     string       `json:"draft_id,omitempty"`
	RollbackOf  int64        `json:"rollback_of,omitempty"`
	ChangedAt   time.Time    `json:"changed_at"`
}

// HistoryQuery selects audit entries. Exactly one of ConfigID and RuleID
// should be set; RuleID matches every entry that touched the rule. Zero
// Since/Until are unbounded.
type HistoryQuery struct {
	ConfigID   string
	RuleID     string
	Since      time.Time
	Until      time.Time
	Descending bool
	Limit      int
}

// RollbackTarget selects which side of a history entry a rollback restores.
type RollbackTarget string

const (
	RollbackToNew      RollbackTarget = "new"
	RollbackToPrevious RollbackTarget = "previous"
)

// TouchedRuleIDs returns the sorted IDs of rules that differ between prev and
// next: rules present on one side only and rules whose spec changed.
func TouchedRuleIDs(prev, next *ConfigState) []string {
	before := ruleSpecs(prev)
	after := ruleSpecs(next)
	var ids []string
	for id, b := range before {
		if a, ok := after[id]; !ok || !bytes.Equal(a, b) {
			ids = append(ids, id)
		}
	}
	for id := range after {
		if _, ok := before[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func ruleSpecs(st *ConfigState) map[string][]byte {
	out := make(map[string][]byte)
	if st == nil {
		return out
	}
	for _, r := range st.Rules {
		b, _ := json.Marshal(r.RuleSpec)
		out[r.ID] = b
	}
	return out
}

// Touches reports whether the entry changed the given rule.
func (e *HistoryEntry) Touches(ruleID string) bool {
	return e.RuleID == ruleID || slices.Contains(e.RuleIDs, ruleID)
}
