package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// merge copies errs into e, prefixing each field name.
func (e *ValidationError) merge(prefix string, err error) {
	ve, ok := err.(*ValidationError)
	if !ok {
		e.add(prefix, "%v", err)
		return
	}
	for _, fe := range ve.Errors {
		e.Errors = append(e.Errors, FieldError{Field: prefix + "." + fe.Field, Message: fe.Message})
	}
}

func (e *ValidationError) errOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

var (
	keyPattern     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]{0,127}$`)
	countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)
)

// ValidateConfig checks a proposed config and returns a normalized copy:
// identifiers trimmed and the value rewritten in canonical JSON for its
// data type. It returns a *ValidationError if any rule fails.
func ValidateConfig(c *Config) (*Config, error) {
	var ve ValidationError
	out := c.Clone()
	out.GameID = strings.TrimSpace(c.GameID)
	out.Key = strings.TrimSpace(c.Key)
	out.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	out.Description = strings.TrimSpace(c.Description)

	if out.GameID == "" {
		ve.add("game_id", "is required")
	} else if len(out.GameID) > 128 {
		ve.add("game_id", "must be 128 characters or fewer")
	}
	if !out.Environment.IsValid() {
		ve.add("environment", "invalid value %q", c.Environment)
	}
	if !keyPattern.MatchString(out.Key) {
		ve.add("key", "must start with a letter and contain only letters, digits, '_', '.' or '-' (max 128)")
	}
	if len([]rune(out.Description)) > 1000 {
		ve.add("description", "must be 1000 characters or fewer")
	}

	if !out.DataType.IsValid() {
		ve.add("data_type", "invalid value %q", c.DataType)
		return out, &ve
	}

	if len(out.Schema) > 0 {
		if out.DataType != TypeJSON {
			ve.add("schema", "is only allowed on json configs")
		} else if err := checkSchema(out.Schema); err != nil {
			ve.add("schema", "%v", err)
		}
	}

	v, err := Coerce(out.DataType, c.Value)
	if err != nil {
		ve.add("value", "%v", err)
	} else {
		out.Value = v.Raw()
		if len(out.Schema) > 0 && out.DataType == TypeJSON && !ve.HasErrors() {
			if err := validateAgainstSchema(out.Schema, out.Value); err != nil {
				ve.add("value", "%v", err)
			}
		}
	}

	return out, ve.errOrNil()
}

// ValidateRule checks a proposed rule against the data type (and schema) of
// its parent config and returns a normalized copy. Condition sets are
// de-duplicated, countries upper-cased and platforms lower-cased.
func ValidateRule(r *Rule, dataType DataType, schema json.RawMessage) (*Rule, error) {
	out := r.Clone()
	spec, err := validateSpec(r.RuleSpec, dataType, schema)
	out.RuleSpec = spec
	return out, err
}

func validateSpec(in RuleSpec, dataType DataType, schema json.RawMessage) (RuleSpec, error) {
	var ve ValidationError
	out := in.Clone()
	out.Description = strings.TrimSpace(in.Description)

	if out.Priority < 0 {
		ve.add("priority", "must be zero or greater, got %d", out.Priority)
	}

	v, err := Coerce(dataType, in.OverrideValue)
	if err != nil {
		ve.add("override_value", "%v", err)
	} else {
		out.OverrideValue = v.Raw()
		if len(schema) > 0 && dataType == TypeJSON {
			if err := validateAgainstSchema(schema, out.OverrideValue); err != nil {
				ve.add("override_value", "%v", err)
			}
		}
	}

	out.Platforms = nil
	seenPlatform := make(map[PlatformCondition]bool, len(in.Platforms))
	for i, pc := range in.Platforms {
		field := fmt.Sprintf("platforms[%d]", i)
		pc.Platform = strings.ToLower(strings.TrimSpace(pc.Platform))
		pc.MinVersion = strings.TrimSpace(pc.MinVersion)
		pc.MaxVersion = strings.TrimSpace(pc.MaxVersion)
		if pc.Platform == "" {
			ve.add(field+".platform", "is required")
		}
		var (
			minV, maxV     AppVersion
			minErr, maxErr error
		)
		if pc.MinVersion != "" {
			if minV, minErr = ParseRuleVersion(pc.MinVersion); minErr != nil {
				ve.add(field+".min_version", "%v", minErr)
			}
		}
		if pc.MaxVersion != "" {
			if maxV, maxErr = ParseRuleVersion(pc.MaxVersion); maxErr != nil {
				ve.add(field+".max_version", "%v", maxErr)
			}
		}
		if pc.MinVersion != "" && pc.MaxVersion != "" && minErr == nil && maxErr == nil && minV.Compare(maxV) > 0 {
			ve.add(field+".max_version", "must not be lower than min_version %s", pc.MinVersion)
		}
		if seenPlatform[pc] {
			continue
		}
		seenPlatform[pc] = true
		out.Platforms = append(out.Platforms, pc)
	}

	out.Countries = nil
	seenCountry := make(map[string]bool, len(in.Countries))
	for i, c := range in.Countries {
		c = strings.ToUpper(strings.TrimSpace(c))
		if !countryPattern.MatchString(c) {
			ve.add(fmt.Sprintf("countries[%d]", i), "must be an ISO 3166-1 alpha-2 code, got %q", in.Countries[i])
			continue
		}
		if !seenCountry[c] {
			seenCountry[c] = true
			out.Countries = append(out.Countries, c)
		}
	}

	out.Segments = nil
	seenSegment := make(map[string]bool, len(in.Segments))
	for i, s := range in.Segments {
		s = strings.TrimSpace(s)
		if s == "" {
			ve.add(fmt.Sprintf("segments[%d]", i), "must not be empty")
			continue
		}
		if !seenSegment[s] {
			seenSegment[s] = true
			out.Segments = append(out.Segments, s)
		}
	}

	if out.ActiveFrom != nil && out.ActiveUntil != nil && !out.ActiveUntil.After(*out.ActiveFrom) {
		ve.add("active_until", "must be after active_from")
	}
	if out.ActiveFrom != nil {
		t := out.ActiveFrom.UTC()
		out.ActiveFrom = &t
	}
	if out.ActiveUntil != nil {
		t := out.ActiveUntil.UTC()
		out.ActiveUntil = &t
	}

	return out, ve.errOrNil()
}

// ValidateRuleSet checks that no two enabled rules share a priority.
func ValidateRuleSet(rules []*Rule) error {
	var ve ValidationError
	for _, dup := range duplicatePriorities(rules) {
		ve.add("priority", "priority %d is used by more than one enabled rule (%s)", dup.priority, strings.Join(dup.ruleIDs, ", "))
	}
	return ve.errOrNil()
}

type priorityClash struct {
	priority int
	ruleIDs  []string
}

// duplicatePriorities returns every priority shared by two or more enabled
// rules, in ascending priority order.
func duplicatePriorities(rules []*Rule) []priorityClash {
	byPriority := make(map[int][]string)
	for _, r := range rules {
		if r.Enabled {
			byPriority[r.Priority] = append(byPriority[r.Priority], r.ID)
		}
	}
	var out []priorityClash
	for p, ids := range byPriority {
		if len(ids) > 1 {
			sort.Strings(ids)
			out = append(out, priorityClash{priority: p, ruleIDs: ids})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].priority < out[j].priority })
	return out
}

// DuplicateEnabledPriority reports the lowest priority shared by more than
// one enabled rule, if any.
func DuplicateEnabledPriority(rules []*Rule) (int, []string, bool) {
	clashes := duplicatePriorities(rules)
	if len(clashes) == 0 {
		return 0, nil, false
	}
	return clashes[0].priority, clashes[0].ruleIDs, true
}

// ValidateReorder applies a complete rule→priority mapping to rules and
// returns the reordered copies. The mapping must name every rule of the
// config exactly once; the result must not give two enabled rules the same
// priority. The input rules are never modified.
func ValidateReorder(rules []*Rule, entries []ReorderEntry) ([]*Rule, error) {
	var ve ValidationError
	byID := make(map[string]*Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}

	assigned := make(map[string]int, len(entries))
	for i, e := range entries {
		field := fmt.Sprintf("entries[%d]", i)
		if _, ok := byID[e.RuleID]; !ok {
			ve.add(field+".rule_id", "unknown rule %q", e.RuleID)
			continue
		}
		if _, dup := assigned[e.RuleID]; dup {
			ve.add(field+".rule_id", "rule %q appears more than once", e.RuleID)
			continue
		}
		if e.Priority < 0 {
			ve.add(field+".priority", "must be zero or greater, got %d", e.Priority)
		}
		assigned[e.RuleID] = e.Priority
	}
	for _, r := range rules {
		if _, ok := assigned[r.ID]; !ok {
			ve.add("entries", "missing rule %q; reorder must cover every rule of the config", r.ID)
		}
	}
	if ve.HasErrors() {
		return nil, &ve
	}

	out := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		c := r.Clone()
		c.Priority = assigned[r.ID]
		out = append(out, c)
	}
	if err := ValidateRuleSet(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateState checks a complete proposed config state, as carried by a
// draft or restored by a rollback, and returns a normalized copy.
func ValidateState(st *ConfigState) (*ConfigState, error) {
	if st == nil {
		return nil, &ValidationError{Errors: []FieldError{{Field: "proposed", Message: "is required"}}}
	}
	var ve ValidationError
	out := &ConfigState{
		DataType:    st.DataType,
		Enabled:     st.Enabled,
		Description: strings.TrimSpace(st.Description),
		Schema:      cloneRaw(st.Schema),
	}

	if !st.DataType.IsValid() {
		ve.add("data_type", "invalid value %q", st.DataType)
		return nil, &ve
	}
	if len(out.Schema) > 0 {
		if st.DataType != TypeJSON {
			ve.add("schema", "is only allowed on json configs")
			out.Schema = nil
		} else if err := checkSchema(out.Schema); err != nil {
			ve.add("schema", "%v", err)
			out.Schema = nil
		}
	}

	v, err := Coerce(st.DataType, st.Value)
	if err != nil {
		ve.add("value", "%v", err)
	} else {
		out.Value = v.Raw()
		if len(out.Schema) > 0 {
			if err := validateAgainstSchema(out.Schema, out.Value); err != nil {
				ve.add("value", "%v", err)
			}
		}
	}

	seenID := make(map[string]bool, len(st.Rules))
	rules := make([]*Rule, 0, len(st.Rules))
	for i, rs := range st.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		if rs == nil {
			ve.add(field, "must not be null")
			continue
		}
		if rs.ID != "" {
			if seenID[rs.ID] {
				ve.add(field+".id", "duplicate rule id %q", rs.ID)
			}
			seenID[rs.ID] = true
		}
		spec, err := validateSpec(rs.RuleSpec, st.DataType, out.Schema)
		if err != nil {
			ve.merge(field, err)
		}
		rules = append(rules, &Rule{ID: rs.ID, RuleSpec: spec})
	}
	if err := ValidateRuleSet(rules); err != nil {
		ve.merge("rules", err)
	}
	if ve.HasErrors() {
		return nil, &ve
	}

	out.Rules = make([]*RuleState, 0, len(rules))
	for _, r := range rules {
		out.Rules = append(out.Rules, &RuleState{ID: r.ID, RuleSpec: r.RuleSpec})
	}
	return out, nil
}
