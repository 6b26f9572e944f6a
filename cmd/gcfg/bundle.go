package main

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/client"
	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const bundleVersion = 1

// bundle is the YAML file format of gcfg export and gcfg import: every
// config of one game environment with its rules.
type bundle struct {
	Version     int               `yaml:"version"`
	GameID      string            `yaml:"game_id"`
	Environment model.Environment `yaml:"environment"`
	ExportedAt  time.Time         `yaml:"exported_at,omitempty"`
	Configs     []bundleConfig    `yaml:"configs"`
}

type bundleConfig struct {
	Key         string         `yaml:"key"`
	Description string         `yaml:"description,omitempty"`
	DataType    model.DataType `yaml:"data_type"`
	Value       any            `yaml:"value"`
	Schema      any            `yaml:"schema,omitempty"`
	Enabled     bool           `yaml:"enabled"`
	Rules       []bundleRule   `yaml:"rules,omitempty"`
}

type bundleRule struct {
	ID            string           `yaml:"id,omitempty"`
	Priority      int              `yaml:"priority"`
	Enabled       bool             `yaml:"enabled"`
	OverrideValue any              `yaml:"override_value"`
	Platforms     []bundlePlatform `yaml:"platforms,omitempty"`
	Countries     []string         `yaml:"countries,omitempty"`
	Segments      []string         `yaml:"segments,omitempty"`
	ActiveFrom    *time.Time       `yaml:"active_from,omitempty"`
	ActiveUntil   *time.Time       `yaml:"active_until,omitempty"`
	Description   string           `yaml:"description,omitempty"`
}

type bundlePlatform struct {
	Platform   string `yaml:"platform"`
	MinVersion string `yaml:"min_version,omitempty"`
	MaxVersion string `yaml:"max_version,omitempty"`
}

// fromJSON decodes a raw JSON value into plain Go values for YAML output.
func fromJSON(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// toJSON encodes a value read from YAML. YAML maps decode with string keys
// under yaml.v3, so json.Marshal accepts them.
func toJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func bundleConfigOf(cfg *model.Config) (bundleConfig, error) {
	bc := bundleConfig{
		Key:         cfg.Key,
		Description: cfg.Description,
		DataType:    cfg.DataType,
		Enabled:     cfg.Enabled,
	}
	var err error
	if bc.Value, err = fromJSON(cfg.Value); err != nil {
		return bc, fmt.Errorf("%s: value: %w", cfg.Key, err)
	}
	if bc.Schema, err = fromJSON(cfg.Schema); err != nil {
		return bc, fmt.Errorf("%s: schema: %w", cfg.Key, err)
	}
	for _, r := range model.SortRules(cfg.Rules) {
		br := bundleRule{
			ID:          r.ID,
			Priority:    r.Priority,
			Enabled:     r.Enabled,
			Countries:   r.Countries,
			Segments:    r.Segments,
			ActiveFrom:  r.ActiveFrom,
			ActiveUntil: r.ActiveUntil,
			Description: r.Description,
		}
		if br.OverrideValue, err = fromJSON(r.OverrideValue); err != nil {
			return bc, fmt.Errorf("%s: rule %s: %w", cfg.Key, r.ID, err)
		}
		for _, p := range r.Platforms {
			br.Platforms = append(br.Platforms, bundlePlatform(p))
		}
		bc.Rules = append(bc.Rules, br)
	}
	return bc, nil
}

// state converts a bundle entry into the full config state a draft proposes.
func (bc bundleConfig) state() (*model.ConfigState, error) {
	st := &model.ConfigState{
		DataType:    bc.DataType,
		Enabled:     bc.Enabled,
		Description: bc.Description,
		Rules:       make([]*model.RuleState, 0, len(bc.Rules)),
	}
	var err error
	if st.Value, err = toJSON(bc.Value); err != nil {
		return nil, fmt.Errorf("%s: value: %w", bc.Key, err)
	}
	if st.Value == nil {
		return nil, fmt.Errorf("%s: value is required", bc.Key)
	}
	if st.Schema, err = toJSON(bc.Schema); err != nil {
		return nil, fmt.Errorf("%s: schema: %w", bc.Key, err)
	}
	for i, br := range bc.Rules {
		rs := &model.RuleState{ID: br.ID, RuleSpec: model.RuleSpec{
			Priority:    br.Priority,
			Enabled:     br.Enabled,
			Countries:   br.Countries,
			Segments:    br.Segments,
			ActiveFrom:  br.ActiveFrom,
			ActiveUntil: br.ActiveUntil,
			Description: br.Description,
		}}
		if rs.OverrideValue, err = toJSON(br.OverrideValue); err != nil {
			return nil, fmt.Errorf("%s: rule %d: %w", bc.Key, i, err)
		}
		for _, p := range br.Platforms {
			rs.Platforms = append(rs.Platforms, model.PlatformCondition(p))
		}
		st.Rules = append(st.Rules, rs)
	}
	return st, nil
}

// readBundle parses and sanity-checks a bundle. Field-level validation is
// left to the server.
func readBundle(r io.Reader) (*bundle, error) {
	var b bundle
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}
	if b.Version != bundleVersion {
		return nil, fmt.Errorf("unsupported bundle version %d", b.Version)
	}
	if b.GameID == "" || b.Environment == "" {
		return nil, fmt.Errorf("bundle needs game_id and environment")
	}
	seen := make(map[string]bool, len(b.Configs))
	for _, bc := range b.Configs {
		if bc.Key == "" {
			return nil, fmt.Errorf("bundle has a config without a key")
		}
		if seen[bc.Key] {
			return nil, fmt.Errorf("duplicate key %q in bundle", bc.Key)
		}
		seen[bc.Key] = true
	}
	return &b, nil
}

// exportBundle reads every config of one game environment, with rules.
func exportBundle(ctx context.Context, c client.ConfigClient, gameID string, env model.Environment, prefix string, now time.Time) (*bundle, error) {
	b := &bundle{Version: bundleVersion, GameID: gameID, Environment: env, ExportedAt: now.UTC()}
	const page = 200
	for offset := 0; ; offset += page {
		resp, err := c.ListConfigs(ctx, &client.ListConfigsRequest{
			GameID: gameID, Environment: env, KeyPrefix: prefix, Limit: page, Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("listing configs: %w", err)
		}
		for _, summary := range resp.Configs {
			cfg, err := c.GetConfig(ctx, summary.ID)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", summary.Key, err)
			}
			bc, err := bundleConfigOf(cfg)
			if err != nil {
				return nil, err
			}
			b.Configs = append(b.Configs, bc)
		}
		if len(resp.Configs) < page || offset+page >= resp.Total {
			return b, nil
		}
	}
}

// importResult says what happened to one key.
type importResult struct {
	Key     string `json:"key"`
	Action  string `json:"action"` // created, unchanged, staged, deployed
	ID      string `json:"id,omitempty"`
	DraftID string `json:"draft_id,omitempty"`
}

// sameState reports whether two states serialize identically once their
// raw JSON values are normalized.
func sameState(a, b *model.ConfigState) bool {
	norm := func(st *model.ConfigState) []byte {
		out := *st
		out.Value = normalizeJSON(st.Value)
		out.Schema = normalizeJSON(st.Schema)
		out.Rules = make([]*model.RuleState, len(st.Rules))
		for i, r := range st.Rules {
			rc := *r
			rc.ID = ""
			rc.OverrideValue = normalizeJSON(r.OverrideValue)
			rc.ActiveFrom = utc(r.ActiveFrom)
			rc.ActiveUntil = utc(r.ActiveUntil)
			out.Rules[i] = &rc
		}
		slices.SortStableFunc(out.Rules, func(x, y *model.RuleState) int { return cmp.Compare(x.Priority, y.Priority) })
		data, _ := json.Marshal(out)
		return data
	}
	return bytes.Equal(norm(a), norm(b))
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func normalizeJSON(raw json.RawMessage) json.RawMessage {
	v, err := fromJSON(raw)
	if err != nil || v == nil {
		return raw
	}
	out, _ := json.Marshal(v)
	return out
}

// importBundle applies a bundle through the management API. New keys are
// created with their rules. Changed keys go through a draft that is
// submitted, and deployed unless stage is set, so the whole state of a key
// changes in one audited step.
func importBundle(ctx context.Context, c client.ConfigClient, b *bundle, who, reason string, stage bool) ([]importResult, error) {
	var results []importResult
	for _, bc := range b.Configs {
		st, err := bc.state()
		if err != nil {
			return results, err
		}
		cur, err := resolveConfig(ctx, c, b.GameID+"/"+string(b.Environment)+"/"+bc.Key)
		switch {
		case err == nil:
		case isNotFound(err):
			res, err := createFromBundle(ctx, c, b, bc.Key, st, who, reason)
			if err != nil {
				return results, err
			}
			results = append(results, res)
			continue
		default:
			return results, err
		}

		if sameState(model.StateOf(cur, cur.Rules), st) {
			results = append(results, importResult{Key: bc.Key, Action: "unchanged", ID: cur.ID})
			continue
		}
		d, err := c.CreateDraft(ctx, cur.ID, &client.CreateDraftRequest{Title: "import " + bc.Key, Proposed: st, Actor: who})
		if err != nil {
			return results, fmt.Errorf("%s: staging draft: %w", bc.Key, err)
		}
		if _, err := c.SubmitDraft(ctx, d.ID, who); err != nil {
			return results, fmt.Errorf("%s: submitting draft: %w", bc.Key, err)
		}
		res := importResult{Key: bc.Key, Action: "staged", ID: cur.ID, DraftID: d.ID}
		if !stage {
			if _, err := c.DeployDraft(ctx, d.ID, who, reason); err != nil {
				return results, fmt.Errorf("%s: deploying draft: %w", bc.Key, err)
			}
			res.Action = "deployed"
		}
		results = append(results, res)
	}
	return results, nil
}

func createFromBundle(ctx context.Context, c client.ConfigClient, b *bundle, key string, st *model.ConfigState, who, reason string) (importResult, error) {
	enabled := st.Enabled
	cfg, err := c.CreateConfig(ctx, &client.CreateConfigRequest{
		GameID:      b.GameID,
		Environment: b.Environment,
		Key:         key,
		Description: st.Description,
		DataType:    st.DataType,
		Value:       st.Value,
		Schema:      st.Schema,
		Enabled:     &enabled,
		Actor:       who,
		Reason:      reason,
	})
	if err != nil {
		return importResult{}, fmt.Errorf("%s: creating config: %w", key, err)
	}
	for _, rs := range st.Rules {
		if _, err := c.CreateRule(ctx, cfg.ID, &client.CreateRuleRequest{
			RuleSpec: rs.RuleSpec,
			Meta:     client.Meta{Actor: who, Reason: reason},
		}); err != nil {
			return importResult{}, fmt.Errorf("%s: creating rule at priority %d: %w", key, rs.Priority, err)
		}
	}
	return importResult{Key: key, Action: "created", ID: cfg.ID}, nil
}

var exportCmd = &cobra.Command{
	Use:     "export <game> <environment>",
	Short:   "Write every config of a game environment to a YAML bundle",
	GroupID: "manage",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")
		outPath, _ := cmd.Flags().GetString("output")

		b, err := exportBundle(cmd.Context(), apiClient, args[0], model.Environment(args[1]), prefix, time.Now())
		if err != nil {
			return err
		}

		var w io.Writer = stdout
		if outPath != "" && outPath != "-" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(b); err != nil {
			return fmt.Errorf("writing bundle: %w", err)
		}
		if err := enc.Close(); err != nil {
			return err
		}
		if w != stdout {
			fmt.Fprintf(os.Stderr, "exported %d configs to %s\n", len(b.Configs), outPath)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <bundle.yaml>",
	Short:   "Apply a YAML bundle (use - for stdin)",
	GroupID: "manage",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, _ := cmd.Flags().GetBool("stage")
		reason, _ := cmd.Flags().GetString("reason")

		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		b, err := readBundle(r)
		if err != nil {
			return err
		}

		results, err := importBundle(cmd.Context(), apiClient, b, actor, reason, stage)
		if jsonOutput {
			if perr := printJSON(results); perr != nil {
				return perr
			}
		} else {
			for _, res := range results {
				line := fmt.Sprintf("%-10s %s", res.Action, res.Key)
				if res.DraftID != "" {
					line += " (draft " + res.DraftID + ")"
				}
				fmt.Fprintln(stdout, line)
			}
		}
		return err
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
	exportCmd.Flags().String("prefix", "", "only keys with this prefix")

	importCmd.Flags().Bool("stage", false, "leave changes to existing keys as pending drafts instead of deploying them")
	importCmd.Flags().String("reason", "", "reason recorded in the audit log")
}
