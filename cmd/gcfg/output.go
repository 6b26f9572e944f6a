package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/gamecfg/internal/evalrpc"
	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(stdout, string(data))
	return nil
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func printConfig(cfg *model.Config) {
	fmt.Fprintf(stdout, "ID:          %s\n", cfg.ID)
	fmt.Fprintf(stdout, "Key:         %s\n", ui.RenderAccent(cfg.Key))
	fmt.Fprintf(stdout, "Game:        %s\n", cfg.GameID)
	fmt.Fprintf(stdout, "Environment: %s\n", ui.RenderEnvironment(cfg.Environment))
	fmt.Fprintf(stdout, "Type:        %s\n", cfg.DataType)
	fmt.Fprintf(stdout, "Value:       %s\n", cfg.Value)
	fmt.Fprintf(stdout, "Enabled:     %s\n", ui.RenderEnabled(cfg.Enabled))
	fmt.Fprintf(stdout, "Version:     %d\n", cfg.Version)
	if cfg.Description != "" {
		fmt.Fprintf(stdout, "Description: %s\n", cfg.Description)
	}
	if len(cfg.Schema) > 0 {
		fmt.Fprintf(stdout, "Schema:      %s\n", cfg.Schema)
	}
	fmt.Fprintf(stdout, "Updated:     %s by %s\n", cfg.UpdatedAt.Format(timeLayout), cfg.UpdatedBy)
	if len(cfg.Rules) > 0 {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Rules:")
		printRuleTable(cfg.Rules)
	}
}

func printConfigTable(cfgs []*model.Config, total int) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGAME\tENV\tKEY\tTYPE\tVALUE\tENABLED\tVERSION")
	for _, c := range cfgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			c.ID, c.GameID, ui.RenderEnvironment(c.Environment), c.Key, c.DataType,
			truncate(string(c.Value), 40), ui.RenderEnabled(c.Enabled), c.Version)
	}
	w.Flush()
	fmt.Fprintf(stdout, "\n%d configs (%d total)\n", len(cfgs), total)
}

// conditions summarizes a rule's conditions on one line.
func conditions(s model.RuleSpec) string {
	var parts []string
	if len(s.Platforms) > 0 {
		ps := make([]string, len(s.Platforms))
		for i, p := range s.Platforms {
			ps[i] = p.Platform
			if p.MinVersion != "" || p.MaxVersion != "" {
				ps[i] += "[" + p.MinVersion + ".." + p.MaxVersion + "]"
			}
		}
		parts = append(parts, "platform="+strings.Join(ps, "|"))
	}
	if len(s.Countries) > 0 {
		parts = append(parts, "country="+strings.Join(s.Countries, "|"))
	}
	if len(s.Segments) > 0 {
		parts = append(parts, "segment="+strings.Join(s.Segments, "|"))
	}
	if s.ActiveFrom != nil {
		parts = append(parts, "from="+s.ActiveFrom.Format(timeLayout))
	}
	if s.ActiveUntil != nil {
		parts = append(parts, "until="+s.ActiveUntil.Format(timeLayout))
	}
	if len(parts) == 0 {
		return ui.RenderMuted("(always)")
	}
	return strings.Join(parts, " ")
}

func printRuleTable(rules []*model.Rule) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tENABLED\tOVERRIDE\tCONDITIONS")
	for _, r := range rules {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.Priority, ui.RenderEnabled(r.Enabled), truncate(string(r.OverrideValue), 30), conditions(r.RuleSpec))
	}
	w.Flush()
}

func printDraft(d *model.Draft) {
	fmt.Fprintf(stdout, "ID:          %s\n", d.ID)
	fmt.Fprintf(stdout, "Config:      %s\n", d.ConfigID)
	if d.Title != "" {
		fmt.Fprintf(stdout, "Title:       %s\n", d.Title)
	}
	fmt.Fprintf(stdout, "Status:      %s\n", ui.RenderDraftStatus(d.Status))
	fmt.Fprintf(stdout, "Base:        v%d\n", d.BaseVersion)
	fmt.Fprintf(stdout, "Created:     %s by %s\n", d.CreatedAt.Format(timeLayout), d.CreatedBy)
	if d.SubmittedAt != nil {
		fmt.Fprintf(stdout, "Submitted:   %s by %s\n", d.SubmittedAt.Format(timeLayout), d.SubmittedBy)
	}
	if d.DeployedAt != nil {
		fmt.Fprintf(stdout, "Deployed:    %s by %s\n", d.DeployedAt.Format(timeLayout), d.DeployedBy)
	}
	if d.RejectedAt != nil {
		fmt.Fprintf(stdout, "Rejected:    %s by %s (%s)\n", d.RejectedAt.Format(timeLayout), d.RejectedBy, d.RejectionReason)
	}
	if p := d.Proposed; p != nil {
		fmt.Fprintf(stdout, "Proposed:    %s = %s, enabled %s, %d rules\n", p.DataType, p.Value, ui.RenderEnabled(p.Enabled), len(p.Rules))
	}
}

func printDraftTable(drafts []*model.Draft) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tBASE\tTITLE\tCREATED BY\tUPDATED")
	for _, d := range drafts {
		fmt.Fprintf(w, "%s\t%s\tv%d\t%s\t%s\t%s\n",
			d.ID, ui.RenderDraftStatus(d.Status), d.BaseVersion, truncate(d.Title, 40), d.CreatedBy, d.UpdatedAt.Format(timeLayout))
	}
	w.Flush()
}

// describeState renders the value side of a history entry.
func describeState(st *model.ConfigState) string {
	if st == nil {
		return ui.RenderMuted("-")
	}
	return fmt.Sprintf("%s (%d rules)", truncate(string(st.Value), 24), len(st.Rules))
}

func printHistoryTable(entries []*model.HistoryEntry) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWHEN\tCHANGE\tACTOR\tBEFORE\tAFTER\tREASON")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.ChangedAt.Format(timeLayout), ui.RenderChangeType(e.ChangeType), e.Actor,
			describeState(e.Previous), describeState(e.New), truncate(e.Reason, 40))
	}
	w.Flush()
}

func printEvaluation(r *evalrpc.EvaluateResponse) {
	switch {
	case r.Error != "":
		fmt.Fprintf(stdout, "%s: %s\n", r.Key, ui.RenderError(r.Error))
	case r.Disabled:
		fmt.Fprintf(stdout, "%s = %s %s\n", r.Key, r.Value, ui.RenderMuted("(disabled, default)"))
	case r.Matched:
		fmt.Fprintf(stdout, "%s = %s %s\n", r.Key, r.Value, ui.RenderAccent("(rule "+r.RuleID+")"))
	default:
		fmt.Fprintf(stdout, "%s = %s %s\n", r.Key, r.Value, ui.RenderMuted("(default)"))
	}
}
