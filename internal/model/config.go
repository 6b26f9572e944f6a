package model

import (
	"encoding/json"
	"time"
)

// DataType is the declared type of a config value. Every stored value and
// rule override is coerced under it before it is persisted.
type DataType string

const (
	TypeString  DataType = "string"
	TypeNumber  DataType = "number"
	TypeBoolean DataType = "boolean"
	TypeJSON    DataType = "json"
)

// String returns the string representation of the data type.
func (t DataType) String() string {
	return string(t)
}

// IsValid checks whether the data type is a known value.
func (t DataType) IsValid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeJSON:
		return true
	}
	return false
}

// Environment scopes a config to one deployment stage of a game.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of the environment.
func (e Environment) String() string {
	return string(e)
}

// IsValid checks whether the environment is a known value.
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return true
	}
	return false
}

// Config is one remotely configurable value, identified by
// (GameID, Environment, Key).
type Config struct {
	ID          string          `json:"id"`
	GameID      string          `json:"game_id"`
	Environment Environment     `json:"environment"`
	Key         string          `json:"key"`
	Description string          `json:"description,omitempty"`
	DataType    DataType        `json:"data_type"`
	Value       json.RawMessage `json:"value"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Enabled     bool            `json:"enabled"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	CreatedBy   string          `json:"created_by,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
	UpdatedBy   string          `json:"updated_by,omitempty"`

	// Relational data -- populated by queries, not stored in the configs table.
	Rules []*Rule `json:"rules,omitempty"`
}

// ConfigFilter narrows a config listing.
type ConfigFilter struct {
	GameID      string
	Environment Environment
	KeyPrefix   string
	Enabled     *bool
	Limit       int
	Offset      int
}

// ConfigState is the version- and timestamp-free content of a config and its
// rule set. Drafts propose one, history entries record one on each side of a
// change, and rollback restores one.
type ConfigState struct {
	Value       json.RawMessage `json:"value"`
	DataType    DataType        `json:"data_type"`
	Enabled     bool            `json:"enabled"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Rules       []*RuleState    `json:"rules"`
}

// RuleState is a rule as captured inside a ConfigState.
type RuleState struct {
	ID string `json:"id"`
	RuleSpec
}

// StateOf captures the current state of cfg and its rules. Rules are
// ordered by (priority, id) so equal states compare equal.
func StateOf(cfg *Config, rules []*Rule) *ConfigState {
	st := &ConfigState{
		Value:       cloneRaw(cfg.Value),
		DataType:    cfg.DataType,
		Enabled:     cfg.Enabled,
		Description: cfg.Description,
		Schema:      cloneRaw(cfg.Schema),
		Rules:       make([]*RuleState, 0, len(rules)),
	}
	for _, r := range SortRules(rules) {
		st.Rules = append(st.Rules, &RuleState{ID: r.ID, RuleSpec: r.RuleSpec.Clone()})
	}
	return st
}

// Clone returns a deep copy of the config without its relational data.
func (c *Config) Clone() *Config {
	out := *c
	out.Value = cloneRaw(c.Value)
	out.Schema = cloneRaw(c.Schema)
	out.Rules = nil
	return &out
}

func cloneRaw(m json.RawMessage) json.RawMessage {
	if m == nil {
		return nil
	}
	out := make(json.RawMessage, len(m))
	copy(out, m)
	return out
}
