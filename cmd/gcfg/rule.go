package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/client"
	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/spf13/cobra"
)

// parsePlatform parses "ios", "ios@1.2.0..", "ios@..2.0" or
// "android@1.2.0..2.0.0" into a platform condition.
func parsePlatform(s string) (model.PlatformCondition, error) {
	name, versions, hasRange := strings.Cut(s, "@")
	if name == "" {
		return model.PlatformCondition{}, fmt.Errorf("invalid platform %q", s)
	}
	pc := model.PlatformCondition{Platform: name}
	if !hasRange {
		return pc, nil
	}
	lo, hi, ok := strings.Cut(versions, "..")
	if !ok || (lo == "" && hi == "") {
		return model.PlatformCondition{}, fmt.Errorf("invalid version range in %q (want platform@min..max)", s)
	}
	pc.MinVersion, pc.MaxVersion = lo, hi
	return pc, nil
}

func parseTimeFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &t, nil
}

// splitList flattens repeated and comma-separated flag values.
func splitList(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// parseReorder parses "rule_id=priority" arguments.
func parseReorder(args []string) ([]model.ReorderEntry, error) {
	entries := make([]model.ReorderEntry, 0, len(args))
	for _, a := range args {
		id, p, ok := splitField(a)
		if !ok {
			return nil, fmt.Errorf("invalid entry %q (want rule_id=priority)", a)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid priority in %q: %w", a, err)
		}
		entries = append(entries, model.ReorderEntry{RuleID: id, Priority: n})
	}
	return entries, nil
}

var ruleCmd = &cobra.Command{
	Use:     "rule",
	Short:   "Manage the override rules of a config",
	GroupID: "manage",
}

var ruleAddCmd = &cobra.Command{
	Use:   "add <config> <override-value>",
	Short: "Add a rule to a config",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := resolveConfig(ctx, apiClient, args[0])
		if err != nil {
			return err
		}

		priority, _ := cmd.Flags().GetInt("priority")
		disabled, _ := cmd.Flags().GetBool("disabled")
		description, _ := cmd.Flags().GetString("description")
		platforms, _ := cmd.Flags().GetStringArray("platform")
		countries, _ := cmd.Flags().GetStringArray("country")
		segments, _ := cmd.Flags().GetStringArray("segment")

		spec := model.RuleSpec{
			Priority:      priority,
			Enabled:       !disabled,
			OverrideValue: valueFor(cfg.DataType, args[1]),
			Countries:     splitList(countries),
			Segments:      splitList(segments),
			Description:   description,
		}
		for _, p := range splitList(platforms) {
			pc, err := parsePlatform(p)
			if err != nil {
				return err
			}
			spec.Platforms = append(spec.Platforms, pc)
		}
		if spec.ActiveFrom, err = parseTimeFlag(cmd, "from"); err != nil {
			return err
		}
		if spec.ActiveUntil, err = parseTimeFlag(cmd, "until"); err != nil {
			return err
		}

		rule, err := apiClient.CreateRule(ctx, cfg.ID, &client.CreateRuleRequest{RuleSpec: spec, Meta: metaFromFlags(cmd)})
		if err != nil {
			return fmt.Errorf("adding rule: %w", err)
		}
		if jsonOutput {
			return printJSON(rule)
		}
		printRuleTable([]*model.Rule{rule})
		return nil
	},
}

var ruleListCmd = &cobra.Command{
	Use:   "list <config>",
	Short: "List a config's rules in evaluation order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := resolveConfig(ctx, apiClient, args[0])
		if err != nil {
			return err
		}
		rules, err := apiClient.ListRules(ctx, cfg.ID)
		if err != nil {
			return fmt.Errorf("listing rules: %w", err)
		}
		if jsonOutput {
			return printJSON(rules)
		}
		if len(rules) == 0 {
			fmt.Fprintln(stdout, "no rules")
			return nil
		}
		printRuleTable(rules)
		return nil
	},
}

var ruleUpdateCmd = &cobra.Command{
	Use:   "update <config> <rule-id>",
	Short: "Change fields of a rule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sets, _ := cmd.Flags().GetStringArray("set")
		fields, err := parseFields(sets)
		if err != nil {
			return err
		}
		cfg, err := resolveConfig(ctx, apiClient, args[0])
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("override") {
			v, _ := cmd.Flags().GetString("override")
			fields["override_value"] = valueFor(cfg.DataType, v)
		}
		if cmd.Flags().Changed("priority") {
			v, _ := cmd.Flags().GetInt("priority")
			fields["priority"] = json.RawMessage(strconv.Itoa(v))
		}
		if cmd.Flags().Changed("enabled") {
			v, _ := cmd.Flags().GetBool("enabled")
			fields["enabled"] = json.RawMessage(strconv.FormatBool(v))
		}
		if len(fields) == 0 {
			return fmt.Errorf("nothing to update")
		}

		rule, err := apiClient.UpdateRule(ctx, cfg.ID, args[1], &client.UpdateRequest{Meta: metaFromFlags(cmd), Fields: fields})
		if err != nil {
			return fmt.Errorf("updating rule: %w", err)
		}
		if jsonOutput {
			return printJSON(rule)
		}
		printRuleTable([]*model.Rule{rule})
		return nil
	},
}

var ruleDeleteCmd = &cobra.Command{
	Use:   "delete <config> <rule-id>",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := resolveConfig(ctx, apiClient, args[0])
		if err != nil {
			return err
		}
		if err := apiClient.DeleteRule(ctx, cfg.ID, args[1], metaFromFlags(cmd)); err != nil {
			return fmt.Errorf("deleting rule: %w", err)
		}
		if jsonOutput {
			return printJSON(map[string]string{"deleted": args[1]})
		}
		fmt.Fprintf(stdout, "deleted %s\n", args[1])
		return nil
	},
}

var ruleReorderCmd = &cobra.Command{
	Use:   "reorder <config> <rule-id>=<priority>...",
	Short: "Assign new priorities to every rule of a config at once",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		entries, err := parseReorder(args[1:])
		if err != nil {
			return err
		}
		cfg, err := resolveConfig(ctx, apiClient, args[0])
		if err != nil {
			return err
		}
		rules, err := apiClient.ReorderRules(ctx, cfg.ID, &client.ReorderRequest{Entries: entries, Meta: metaFromFlags(cmd)})
		if err != nil {
			return fmt.Errorf("reordering rules: %w", err)
		}
		if jsonOutput {
			return printJSON(rules)
		}
		printRuleTable(rules)
		return nil
	},
}

func init() {
	ruleAddCmd.Flags().IntP("priority", "p", 0, "priority (lower is evaluated first)")
	ruleAddCmd.Flags().Bool("disabled", false, "create the rule disabled")
	ruleAddCmd.Flags().StringP("description", "d", "", "description")
	ruleAddCmd.Flags().StringArray("platform", nil, "platform condition, e.g. ios or android@1.2.0..2.0.0 (repeatable)")
	ruleAddCmd.Flags().StringArray("country", nil, "ISO country code (repeatable or comma-separated)")
	ruleAddCmd.Flags().StringArray("segment", nil, "segment (repeatable or comma-separated)")
	ruleAddCmd.Flags().String("from", "", "active from (RFC 3339)")
	ruleAddCmd.Flags().String("until", "", "active until (RFC 3339)")
	addMetaFlags(ruleAddCmd)

	ruleUpdateCmd.Flags().String("override", "", "new override value")
	ruleUpdateCmd.Flags().IntP("priority", "p", 0, "new priority")
	ruleUpdateCmd.Flags().Bool("enabled", true, "enable or disable the rule")
	ruleUpdateCmd.Flags().StringArray("set", nil, "set a raw field (key=value, repeatable)")
	addMetaFlags(ruleUpdateCmd)

	addMetaFlags(ruleDeleteCmd)
	addMetaFlags(ruleReorderCmd)

	ruleCmd.AddCommand(ruleAddCmd)
	ruleCmd.AddCommand(ruleListCmd)
	ruleCmd.AddCommand(ruleUpdateCmd)
	ruleCmd.AddCommand(ruleDeleteCmd)
	ruleCmd.AddCommand(ruleReorderCmd)
}
