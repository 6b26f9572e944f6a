package main

import (
	"fmt"
	"strconv"

	"github.com/alfredjeanlab/gamecfg/internal/client"
	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/spf13/cobra"
)

func historyRequest(cmd *cobra.Command) *client.HistoryRequest {
	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")
	oldest, _ := cmd.Flags().GetBool("oldest-first")
	limit, _ := cmd.Flags().GetInt("limit")
	return &client.HistoryRequest{Since: since, Until: until, Descending: !oldest, Limit: limit}
}

func showHistory(entries []*model.HistoryEntry) error {
	if jsonOutput {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "no history")
		return nil
	}
	printHistoryTable(entries)
	return nil
}

var historyCmd = &cobra.Command{
	Use:     "history <config>",
	Short:   "Show the audit log of a config (newest first)",
	GroupID: "workflow",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if rule, _ := cmd.Flags().GetString("rule"); rule != "" {
			entries, err := apiClient.RuleHistory(ctx, rule, historyRequest(cmd))
			if err != nil {
				return fmt.Errorf("querying rule history: %w", err)
			}
			return showHistory(entries)
		}
		cfg, err := resolveConfig(ctx, apiClient, args[0])
		if err != nil {
			return err
		}
		entries, err := apiClient.ConfigHistory(ctx, cfg.ID, historyRequest(cmd))
		if err != nil {
			return fmt.Errorf("querying history: %w", err)
		}
		return showHistory(entries)
	},
}

var rollbackCmd = &cobra.Command{
	Use:     "rollback <config> <history-id>",
	Short:   "Restore a config to the state recorded by a history entry",
	GroupID: "workflow",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		entryID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid history ID %q: %w", args[1], err)
		}
		cfg, err := resolveConfig(ctx, apiClient, args[0])
		if err != nil {
			return err
		}
		target := model.RollbackToNew
		if before, _ := cmd.Flags().GetBool("before"); before {
			target = model.RollbackToPrevious
		}
		restored, err := apiClient.Rollback(ctx, cfg.ID, &client.RollbackRequest{
			EntryID: entryID,
			Target:  target,
			Meta:    metaFromFlags(cmd),
		})
		if err != nil {
			return fmt.Errorf("rolling back: %w", err)
		}
		if jsonOutput {
			return printJSON(restored)
		}
		printConfig(restored)
		return nil
	},
}

func init() {
	historyCmd.Flags().String("since", "", "only entries at or after this time (RFC 3339)")
	historyCmd.Flags().String("until", "", "only entries before this time (RFC 3339)")
	historyCmd.Flags().Bool("oldest-first", false, "list oldest entries first")
	historyCmd.Flags().Int("limit", 0, "maximum number of entries")
	historyCmd.Flags().String("rule", "", "show the history of one rule of the config instead")

	rollbackCmd.Flags().Bool("before", false, "restore the state before the change instead of after it")
	addMetaFlags(rollbackCmd)
}
