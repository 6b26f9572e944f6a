package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// validConfig returns a Config that passes all validation rules.
func validConfig() *Config {
	return &Config{
		GameID:      "puzzle-quest",
		Environment: EnvProduction,
		Key:         "max_lives",
		DataType:    TypeNumber,
		Value:       json.RawMessage(`5`),
		Enabled:     true,
	}
}

// fieldErrors extracts a *ValidationError from err or fails the test.
func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	return ve.Errors
}

// hasFieldError reports whether the error list contains an error for the given field.
func hasFieldError(errs []FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidateConfig_Valid(t *testing.T) {
	c := validConfig()
	c.Value = json.RawMessage(`"7"`)
	c.Key = "  max_lives "
	got, err := ValidateConfig(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.Value) != `7` {
		t.Errorf("value not canonical: %s", got.Value)
	}
	if got.Key != "max_lives" {
		t.Errorf("key not trimmed: %q", got.Key)
	}
	if string(c.Value) != `"7"` {
		t.Error("ValidateConfig modified its input")
	}
}

func TestValidateConfig_Errors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		edit  func(c *Config)
		field string
	}{
		{"game required", func(c *Config) { c.GameID = " " }, "game_id"},
		{"bad environment", func(c *Config) { c.Environment = "qa" }, "environment"},
		{"key leading digit", func(c *Config) { c.Key = "1lives" }, "key"},
		{"key space", func(c *Config) { c.Key = "max lives" }, "key"},
		{"key too long", func(c *Config) { c.Key = "k" + strings.Repeat("x", 128) }, "key"},
		{"bad data type", func(c *Config) { c.DataType = "int" }, "data_type"},
		{"value mismatch", func(c *Config) { c.Value = json.RawMessage(`"lots"`) }, "value"},
		{"schema on non-json", func(c *Config) { c.Schema = json.RawMessage(`{"type":"number"}`) }, "schema"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.edit(c)
			_, err := ValidateConfig(c)
			if errs := fieldErrors(t, err); !hasFieldError(errs, tc.field) {
				t.Errorf("expected error on %q, got %v", tc.field, errs)
			}
		})
	}
}

func TestValidateConfig_MultipleErrors(t *testing.T) {
	c := validConfig()
	c.GameID = ""
	c.Key = "-"
	c.Value = json.RawMessage(`"x"`)
	errs := fieldErrors(t, func() error { _, err := ValidateConfig(c); return err }())
	if len(errs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
	}
}

func TestValidateConfig_Schema(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","required":["reward"],"properties":{"reward":{"type":"integer","minimum":1}}}`)

	c := validConfig()
	c.DataType = TypeJSON
	c.Schema = schema
	c.Value = json.RawMessage(`{"reward": 10}`)
	got, err := ValidateConfig(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.Value) != `{"reward":10}` {
		t.Errorf("value = %s", got.Value)
	}

	c.Value = json.RawMessage(`{"reward": 0}`)
	_, err = ValidateConfig(c)
	if errs := fieldErrors(t, err); !hasFieldError(errs, "value") {
		t.Errorf("expected value error, got %v", errs)
	}

	c.Value = json.RawMessage(`{}`)
	c.Schema = json.RawMessage(`{"type": 12}`)
	_, err = ValidateConfig(c)
	if errs := fieldErrors(t, err); !hasFieldError(errs, "schema") {
		t.Errorf("expected schema error, got %v", errs)
	}
}

func validRule() *Rule {
	return &Rule{
		ID:       "rul-1",
		ConfigID: "cfg-1",
		RuleSpec: RuleSpec{
			Priority:      1,
			Enabled:       true,
			OverrideValue: json.RawMessage(`3`),
		},
	}
}

func TestValidateRule_Normalizes(t *testing.T) {
	r := validRule()
	r.OverrideValue = json.RawMessage(`"3"`)
	r.Platforms = []PlatformCondition{
		{Platform: "iOS", MinVersion: "2.0.0", MaxVersion: "2.9.9"},
		{Platform: "ios", MinVersion: "2.0.0", MaxVersion: "2.9.9"},
	}
	r.Countries = []string{"us", " DE", "US"}
	r.Segments = []string{"whales", "whales", "new_users"}

	got, err := ValidateRule(r, TypeNumber, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := RuleSpec{
		Priority:      1,
		Enabled:       true,
		OverrideValue: json.RawMessage(`3`),
		Platforms:     []PlatformCondition{{Platform: "ios", MinVersion: "2.0.0", MaxVersion: "2.9.9"}},
		Countries:     []string{"US", "DE"},
		Segments:      []string{"whales", "new_users"},
	}
	if diff := cmp.Diff(want, got.RuleSpec); diff != "" {
		t.Errorf("normalized spec mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateRule_Errors(t *testing.T) {
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	before := from.Add(-time.Hour)

	for _, tc := range []struct {
		name  string
		edit  func(r *Rule)
		field string
	}{
		{"negative priority", func(r *Rule) { r.Priority = -1 }, "priority"},
		{"override mismatch", func(r *Rule) { r.OverrideValue = json.RawMessage(`"many"`) }, "override_value"},
		{"override missing", func(r *Rule) { r.OverrideValue = nil }, "override_value"},
		{"platform name", func(r *Rule) { r.Platforms = []PlatformCondition{{Platform: " "}} }, "platforms[0].platform"},
		{"short min version", func(r *Rule) {
			r.Platforms = []PlatformCondition{{Platform: "ios", MinVersion: "2.1"}}
		}, "platforms[0].min_version"},
		{"garbage max version", func(r *Rule) {
			r.Platforms = []PlatformCondition{{Platform: "ios", MaxVersion: "latest"}}
		}, "platforms[0].max_version"},
		{"min above max", func(r *Rule) {
			r.Platforms = []PlatformCondition{{Platform: "ios", MinVersion: "3.0.0", MaxVersion: "2.0.0"}}
		}, "platforms[0].max_version"},
		{"country code", func(r *Rule) { r.Countries = []string{"USA"} }, "countries[0]"},
		{"empty segment", func(r *Rule) { r.Segments = []string{""} }, "segments[0]"},
		{"window order", func(r *Rule) { r.ActiveFrom, r.ActiveUntil = &from, &before }, "active_until"},
		{"empty window", func(r *Rule) { r.ActiveFrom, r.ActiveUntil = &from, &from }, "active_until"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := validRule()
			tc.edit(r)
			_, err := ValidateRule(r, TypeNumber, nil)
			if errs := fieldErrors(t, err); !hasFieldError(errs, tc.field) {
				t.Errorf("expected error on %q, got %v", tc.field, errs)
			}
		})
	}
}

func TestValidateRule_PrereleaseBoundsAccepted(t *testing.T) {
	r := validRule()
	r.Platforms = []PlatformCondition{{Platform: "android", MinVersion: "2.0.0-beta.1", MaxVersion: "2.0.0"}}
	if _, err := ValidateRule(r, TypeNumber, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRule_Schema(t *testing.T) {
	schema := json.RawMessage(`{"type":"array","items":{"type":"string"}}`)
	r := validRule()
	r.OverrideValue = json.RawMessage(`["a","b"]`)
	if _, err := ValidateRule(r, TypeJSON, schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.OverrideValue = json.RawMessage(`[1]`)
	_, err := ValidateRule(r, TypeJSON, schema)
	if errs := fieldErrors(t, err); !hasFieldError(errs, "override_value") {
		t.Errorf("expected override_value error, got %v", errs)
	}
}

func TestValidateRuleSet(t *testing.T) {
	rules := []*Rule{
		{ID: "rul-a", RuleSpec: RuleSpec{Priority: 1, Enabled: true}},
		{ID: "rul-b", RuleSpec: RuleSpec{Priority: 1, Enabled: false}},
		{ID: "rul-c", RuleSpec: RuleSpec{Priority: 2, Enabled: true}},
	}
	if err := ValidateRuleSet(rules); err != nil {
		t.Fatalf("disabled rules may share a priority: %v", err)
	}

	rules[1].Enabled = true
	errs := fieldErrors(t, ValidateRuleSet(rules))
	if !hasFieldError(errs, "priority") || !strings.Contains(errs[0].Message, "rul-a, rul-b") {
		t.Errorf("unexpected errors: %v", errs)
	}

	p, ids, ok := DuplicateEnabledPriority(rules)
	if !ok || p != 1 || len(ids) != 2 {
		t.Errorf("DuplicateEnabledPriority = %d, %v, %v", p, ids, ok)
	}
}

func TestValidateReorder(t *testing.T) {
	rules := []*Rule{
		{ID: "rul-a", RuleSpec: RuleSpec{Priority: 1, Enabled: true}},
		{ID: "rul-b", RuleSpec: RuleSpec{Priority: 2, Enabled: true}},
	}

	got, err := ValidateReorder(rules, []ReorderEntry{{RuleID: "rul-a", Priority: 2}, {RuleID: "rul-b", Priority: 1}})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if got[0].Priority != 2 || got[1].Priority != 1 {
		t.Errorf("priorities not applied: %d %d", got[0].Priority, got[1].Priority)
	}
	if rules[0].Priority != 1 {
		t.Error("ValidateReorder modified its input")
	}

	for _, tc := range []struct {
		name    string
		entries []ReorderEntry
		field   string
	}{
		{"missing rule", []ReorderEntry{{RuleID: "rul-a", Priority: 3}}, "entries"},
		{"unknown rule", []ReorderEntry{{RuleID: "rul-a", Priority: 1}, {RuleID: "rul-b", Priority: 2}, {RuleID: "rul-x", Priority: 3}}, "entries[2].rule_id"},
		{"repeated rule", []ReorderEntry{{RuleID: "rul-a", Priority: 1}, {RuleID: "rul-a", Priority: 2}, {RuleID: "rul-b", Priority: 3}}, "entries[1].rule_id"},
		{"clash", []ReorderEntry{{RuleID: "rul-a", Priority: 4}, {RuleID: "rul-b", Priority: 4}}, "priority"},
		{"negative", []ReorderEntry{{RuleID: "rul-a", Priority: -1}, {RuleID: "rul-b", Priority: 4}}, "entries[0].priority"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateReorder(rules, tc.entries)
			if errs := fieldErrors(t, err); !hasFieldError(errs, tc.field) {
				t.Errorf("expected error on %q, got %v", tc.field, errs)
			}
		})
	}
}

func TestValidateState(t *testing.T) {
	st := &ConfigState{
		DataType: TypeBoolean,
		Value:    json.RawMessage(`"true"`),
		Enabled:  true,
		Rules: []*RuleState{
			{ID: "rul-1", RuleSpec: RuleSpec{Priority: 1, Enabled: true, OverrideValue: json.RawMessage(`false`), Countries: []string{"br"}}},
		},
	}
	got, err := ValidateState(st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.Value) != "true" || got.Rules[0].Countries[0] != "BR" {
		t.Errorf("not normalized: %s %v", got.Value, got.Rules[0].Countries)
	}

	st.Rules = append(st.Rules, &RuleState{ID: "rul-2", RuleSpec: RuleSpec{Priority: 1, Enabled: true, OverrideValue: json.RawMessage(`"maybe"`)}})
	_, err = ValidateState(st)
	errs := fieldErrors(t, err)
	if !hasFieldError(errs, "rules[1].override_value") {
		t.Errorf("expected nested override error, got %v", errs)
	}
	if !hasFieldError(errs, "rules.priority") {
		t.Errorf("expected priority clash, got %v", errs)
	}

	if _, err := ValidateState(nil); err == nil {
		t.Error("expected error for nil state")
	}
}
