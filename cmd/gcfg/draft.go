package main

import (
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/gamecfg/internal/client"
	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/spf13/cobra"
)

func proposedFromFlag(cmd *cobra.Command) (*model.ConfigState, error) {
	v, _ := cmd.Flags().GetString("proposed")
	if v == "" {
		return nil, nil
	}
	raw, err := readJSONArg(v)
	if err != nil {
		return nil, fmt.Errorf("--proposed: %w", err)
	}
	var st model.ConfigState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("--proposed: %w", err)
	}
	return &st, nil
}

func showDraft(d *model.Draft) error {
	if jsonOutput {
		return printJSON(d)
	}
	printDraft(d)
	return nil
}

var draftCmd = &cobra.Command{
	Use:     "draft",
	Short:   "Stage, review and deploy changes to a config",
	GroupID: "workflow",
}

var draftCreateCmd = &cobra.Command{
	Use:   "create <config>",
	Short: "Stage a draft (starts from the live state unless --proposed is given)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := resolveConfig(ctx, apiClient, args[0])
		if err != nil {
			return err
		}
		title, _ := cmd.Flags().GetString("title")
		proposed, err := proposedFromFlag(cmd)
		if err != nil {
			return err
		}
		d, err := apiClient.CreateDraft(ctx, cfg.ID, &client.CreateDraftRequest{Title: title, Proposed: proposed, Actor: actor})
		if err != nil {
			return fmt.Errorf("creating draft: %w", err)
		}
		return showDraft(d)
	},
}

var draftShowCmd = &cobra.Command{
	Use:   "show <draft-id>",
	Short: "Show a draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := apiClient.GetDraft(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(d)
		}
		printDraft(d)
		if d.Proposed != nil && len(d.Proposed.Rules) > 0 {
			rules := make([]*model.Rule, len(d.Proposed.Rules))
			for i, rs := range d.Proposed.Rules {
				rules[i] = &model.Rule{ID: rs.ID, ConfigID: d.ConfigID, RuleSpec: rs.RuleSpec}
			}
			fmt.Fprintln(stdout)
			fmt.Fprintln(stdout, "Proposed rules:")
			printRuleTable(rules)
		}
		return nil
	},
}

var draftListCmd = &cobra.Command{
	Use:   "list <config>",
	Short: "List a config's drafts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := resolveConfig(ctx, apiClient, args[0])
		if err != nil {
			return err
		}
		status, _ := cmd.Flags().GetString("status")
		drafts, err := apiClient.ListDrafts(ctx, cfg.ID, model.DraftStatus(status))
		if err != nil {
			return fmt.Errorf("listing drafts: %w", err)
		}
		if jsonOutput {
			return printJSON(drafts)
		}
		if len(drafts) == 0 {
			fmt.Fprintln(stdout, "no drafts")
			return nil
		}
		printDraftTable(drafts)
		return nil
	},
}

var draftUpdateCmd = &cobra.Command{
	Use:   "update <draft-id>",
	Short: "Edit a draft that has not been submitted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.UpdateDraftRequest{Actor: actor}
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			req.Title = &title
		}
		proposed, err := proposedFromFlag(cmd)
		if err != nil {
			return err
		}
		req.Proposed = proposed
		req.BaseVersion, _ = cmd.Flags().GetInt64("base-version")
		if req.Title == nil && req.Proposed == nil {
			return fmt.Errorf("nothing to update")
		}
		d, err := apiClient.UpdateDraft(cmd.Context(), args[0], req)
		if err != nil {
			return fmt.Errorf("updating draft: %w", err)
		}
		return showDraft(d)
	},
}

var draftSubmitCmd = &cobra.Command{
	Use:   "submit <draft-id>",
	Short: "Submit a draft for review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := apiClient.SubmitDraft(cmd.Context(), args[0], actor)
		if err != nil {
			return fmt.Errorf("submitting draft: %w", err)
		}
		return showDraft(d)
	},
}

var draftDeployCmd = &cobra.Command{
	Use:   "deploy <draft-id>",
	Short: "Make a pending draft live",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		d, err := apiClient.DeployDraft(cmd.Context(), args[0], actor, reason)
		if err != nil {
			return fmt.Errorf("deploying draft: %w", err)
		}
		return showDraft(d)
	},
}

var draftRejectCmd = &cobra.Command{
	Use:   "reject <draft-id>",
	Short: "Reject a pending draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		d, err := apiClient.RejectDraft(cmd.Context(), args[0], actor, reason)
		if err != nil {
			return fmt.Errorf("rejecting draft: %w", err)
		}
		return showDraft(d)
	},
}

func init() {
	draftCreateCmd.Flags().String("title", "", "draft title")
	draftCreateCmd.Flags().String("proposed", "", "proposed state as JSON (inline or @file)")

	draftListCmd.Flags().String("status", "", "filter by status (draft, pending, deployed, rejected)")

	draftUpdateCmd.Flags().String("title", "", "new title")
	draftUpdateCmd.Flags().String("proposed", "", "new proposed state as JSON (inline or @file)")
	draftUpdateCmd.Flags().Int64("base-version", 0, "config version the new proposal was built from")

	draftDeployCmd.Flags().String("reason", "", "reason recorded in the audit log")
	draftRejectCmd.Flags().String("reason", "", "why the draft was rejected")

	draftCmd.AddCommand(draftCreateCmd)
	draftCmd.AddCommand(draftShowCmd)
	draftCmd.AddCommand(draftListCmd)
	draftCmd.AddCommand(draftUpdateCmd)
	draftCmd.AddCommand(draftSubmitCmd)
	draftCmd.AddCommand(draftDeployCmd)
	draftCmd.AddCommand(draftRejectCmd)
}
