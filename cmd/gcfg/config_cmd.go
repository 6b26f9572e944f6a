package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/alfredjeanlab/gamecfg/internal/client"
	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/spf13/cobra"
)

// resolveConfig finds the config a command argument names: either a config
// ID or a "game/environment/key" path.
func resolveConfig(ctx context.Context, c client.ConfigClient, ref string) (*model.Config, error) {
	parts := strings.SplitN(ref, "/", 3)
	if len(parts) != 3 {
		return c.GetConfig(ctx, ref)
	}
	resp, err := c.ListConfigs(ctx, &client.ListConfigsRequest{
		GameID:      parts[0],
		Environment: model.Environment(parts[1]),
		KeyPrefix:   parts[2],
	})
	if err != nil {
		return nil, err
	}
	for _, cfg := range resp.Configs {
		if cfg.Key == parts[2] {
			return c.GetConfig(ctx, cfg.ID)
		}
	}
	return nil, fmt.Errorf("config %s: %w", ref, model.ErrNotFound)
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}

// readJSONArg returns v as raw JSON, reading it from a file when it starts
// with '@'.
func readJSONArg(v string) (json.RawMessage, error) {
	if name, ok := strings.CutPrefix(v, "@"); ok {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		v = string(data)
	}
	if !json.Valid([]byte(v)) {
		return nil, fmt.Errorf("not valid JSON: %s", truncate(v, 40))
	}
	return json.RawMessage(v), nil
}

func metaFromFlags(cmd *cobra.Command) client.Meta {
	expected, _ := cmd.Flags().GetInt64("expect-version")
	reason, _ := cmd.Flags().GetString("reason")
	return client.Meta{ExpectedVersion: expected, Actor: actor, Reason: reason}
}

func addMetaFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("expect-version", 0, "fail unless the config is at this version")
	cmd.Flags().String("reason", "", "reason recorded in the audit log")
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage config values",
	GroupID: "manage",
}

var configCreateCmd = &cobra.Command{
	Use:   "create <game>/<environment>/<key> <value>",
	Short: "Create a config",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		parts := strings.SplitN(args[0], "/", 3)
		if len(parts) != 3 {
			return fmt.Errorf("config path must be <game>/<environment>/<key>, got %q", args[0])
		}
		dataType, _ := cmd.Flags().GetString("type")
		description, _ := cmd.Flags().GetString("description")
		schemaArg, _ := cmd.Flags().GetString("schema")
		disabled, _ := cmd.Flags().GetBool("disabled")
		reason, _ := cmd.Flags().GetString("reason")

		req := &client.CreateConfigRequest{
			GameID:      parts[0],
			Environment: model.Environment(parts[1]),
			Key:         parts[2],
			Description: description,
			DataType:    model.DataType(dataType),
			Value:       valueFor(model.DataType(dataType), args[1]),
			Actor:       actor,
			Reason:      reason,
		}
		if schemaArg != "" {
			schema, err := readJSONArg(schemaArg)
			if err != nil {
				return fmt.Errorf("--schema: %w", err)
			}
			req.Schema = schema
		}
		if disabled {
			enabled := false
			req.Enabled = &enabled
		}

		cfg, err := apiClient.CreateConfig(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("creating config: %w", err)
		}
		if jsonOutput {
			return printJSON(cfg)
		}
		printConfig(cfg)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <id | game/environment/key>",
	Short: "Show a config and its rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd.Context(), apiClient, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cfg)
		}
		printConfig(cfg)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		game, _ := cmd.Flags().GetString("game")
		env, _ := cmd.Flags().GetString("env")
		prefix, _ := cmd.Flags().GetString("prefix")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		req := &client.ListConfigsRequest{
			GameID:      game,
			Environment: model.Environment(env),
			KeyPrefix:   prefix,
			Limit:       limit,
			Offset:      offset,
		}
		if cmd.Flags().Changed("enabled") {
			enabled, _ := cmd.Flags().GetBool("enabled")
			req.Enabled = &enabled
		}
		resp, err := apiClient.ListConfigs(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("listing configs: %w", err)
		}
		if jsonOutput {
			return printJSON(resp)
		}
		printConfigTable(resp.Configs, resp.Total)
		return nil
	},
}

var configUpdateCmd = &cobra.Command{
	Use:   "update <id | game/environment/key>",
	Short: "Change a config's value, description, schema or enabled flag",
	Args:  cobra.ExactArgs(1),
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
		if cmd.Flags().Changed("value") {
			v, _ := cmd.Flags().GetString("value")
			fields["value"] = valueFor(cfg.DataType, v)
		}
		if cmd.Flags().Changed("description") {
			v, _ := cmd.Flags().GetString("description")
			fields["description"], _ = json.Marshal(v)
		}
		if cmd.Flags().Changed("schema") {
			v, _ := cmd.Flags().GetString("schema")
			schema, err := readJSONArg(v)
			if err != nil {
				return fmt.Errorf("--schema: %w", err)
			}
			fields["schema"] = schema
		}
		if cmd.Flags().Changed("enabled") {
			v, _ := cmd.Flags().GetBool("enabled")
			fields["enabled"] = json.RawMessage(fmt.Sprint(v))
		}
		if len(fields) == 0 {
			return fmt.Errorf("nothing to update")
		}

		updated, err := apiClient.UpdateConfig(ctx, cfg.ID, &client.UpdateRequest{Meta: metaFromFlags(cmd), Fields: fields})
		if err != nil {
			return fmt.Errorf("updating config: %w", err)
		}
		if jsonOutput {
			return printJSON(updated)
		}
		printConfig(updated)
		return nil
	},
}

var configDeleteCmd = &cobra.Command{
	Use:   "delete <id | game/environment/key>",
	Short: "Delete a config that has no rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := resolveConfig(ctx, apiClient, args[0])
		if err != nil {
			return err
		}
		if err := apiClient.DeleteConfig(ctx, cfg.ID, metaFromFlags(cmd)); err != nil {
			return fmt.Errorf("deleting config: %w", err)
		}
		if jsonOutput {
			return printJSON(map[string]string{"deleted": cfg.ID})
		}
		fmt.Fprintf(stdout, "deleted %s (%s)\n", cfg.ID, cfg.Key)
		return nil
	},
}

func init() {
	configCreateCmd.Flags().StringP("type", "t", "string", "data type (string, number, boolean, json)")
	configCreateCmd.Flags().StringP("description", "d", "", "description")
	configCreateCmd.Flags().String("schema", "", "JSON Schema for json configs (inline or @file)")
	configCreateCmd.Flags().Bool("disabled", false, "create the config disabled")
	configCreateCmd.Flags().String("reason", "", "reason recorded in the audit log")

	configListCmd.Flags().StringP("game", "g", "", "filter by game ID")
	configListCmd.Flags().StringP("env", "e", "", "filter by environment")
	configListCmd.Flags().String("prefix", "", "filter by key prefix")
	configListCmd.Flags().Bool("enabled", true, "filter by enabled flag")
	configListCmd.Flags().Int("limit", 0, "maximum number of configs")
	configListCmd.Flags().Int("offset", 0, "number of configs to skip")

	configUpdateCmd.Flags().String("value", "", "new value")
	configUpdateCmd.Flags().StringP("description", "d", "", "new description")
	configUpdateCmd.Flags().String("schema", "", "new JSON Schema (inline or @file)")
	configUpdateCmd.Flags().Bool("enabled", true, "enable or disable the config")
	configUpdateCmd.Flags().StringArray("set", nil, "set a raw field (key=value, repeatable)")
	addMetaFlags(configUpdateCmd)

	addMetaFlags(configDeleteCmd)

	configCmd.AddCommand(configCreateCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configUpdateCmd)
	configCmd.AddCommand(configDeleteCmd)
}
