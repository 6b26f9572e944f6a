package events

import (
	"context"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/model"
)

// Event topic constants
const (
	TopicConfigCreated    = "gamecfg.config.created"
	TopicConfigUpdated    = "gamecfg.config.updated"
	TopicConfigDeleted    = "gamecfg.config.deleted"
	TopicConfigRolledBack = "gamecfg.config.rolled_back"

	TopicRuleCreated    = "gamecfg.rule.created"
	TopicRuleUpdated    = "gamecfg.rule.updated"
	TopicRuleDeleted    = "gamecfg.rule.deleted"
	TopicRulesReordered = "gamecfg.rules.reordered"

	TopicDraftCreated   = "gamecfg.draft.created"
	TopicDraftUpdated   = "gamecfg.draft.updated"
	TopicDraftSubmitted = "gamecfg.draft.submitted"
	TopicDraftDeployed  = "gamecfg.draft.deployed"
	TopicDraftRejected  = "gamecfg.draft.rejected"

	// TopicLiveChanged is published after every mutation that changes what
	// clients are served. Replicas refresh their snapshot on it.
	TopicLiveChanged = "gamecfg.live.changed"

	// TopicAll matches every gamecfg event.
	TopicAll = "gamecfg.>"
)

// TopicForChange returns the topic a history change type is published on.
func TopicForChange(ct model.ChangeType) string {
	switch ct {
	case model.ChangeConfigCreated:
		return TopicConfigCreated
	case model.ChangeConfigUpdated:
		return TopicConfigUpdated
	case model.ChangeConfigDeleted:
		return TopicConfigDeleted
	case model.ChangeConfigRolledBack:
		return TopicConfigRolledBack
	case model.ChangeRuleCreated:
		return TopicRuleCreated
	case model.ChangeRuleUpdated:
		return TopicRuleUpdated
	case model.ChangeRuleDeleted:
		return TopicRuleDeleted
	case model.ChangeRulesReordered:
		return TopicRulesReordered
	case model.ChangeDraftDeployed:
		return TopicDraftDeployed
	}
	return "gamecfg." + string(ct)
}

// Event types

// Changed is published for every mutation that appended a history entry.
type Changed struct {
	ChangeType  model.ChangeType  `json:"change_type"`
	HistoryID   int64             `json:"history_id"`
	ConfigID    string            `json:"config_id"`
	RuleID      string            `json:"rule_id,omitempty"`
	GameID      string            `json:"game_id"`
	Environment model.Environment `json:"environment"`
	Key         string            `json:"key"`
	Version     int64             `json:"version"`
	Actor       string            `json:"actor,omitempty"`
	ChangedAt   time.Time         `json:"changed_at"`
}

// DraftChanged is published when a draft is created, edited or changes
// status.
type DraftChanged struct {
	Draft *model.Draft `json:"draft"`
	Actor string       `json:"actor,omitempty"`
}

// LiveChanged tells replicas that the live state moved to a new version.
type LiveChanged struct {
	ConfigID string `json:"config_id"`
	Version  int64  `json:"version"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
