package main

import (
	"fmt"

	"github.com/alfredjeanlab/gamecfg/internal/ui"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the gamecfg service",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := apiClient.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if jsonOutput {
			if err := printJSON(h); err != nil {
				return err
			}
		} else {
			status := ui.RenderOK(h.Status)
			if h.Status != "ok" {
				status = ui.RenderError(h.Status)
			}
			mode := "read-write"
			if h.ReadOnly {
				mode = "evaluation only"
			}
			hash := h.SnapshotHash
			if len(hash) > 12 {
				hash = hash[:12]
			}
			fmt.Fprintf(stdout, "Health:   %s (%s)\n", status, mode)
			fmt.Fprintf(stdout, "Snapshot: %s, %d configs\n", hash, h.Configs)
		}
		if h.Status != "ok" {
			return fmt.Errorf("unhealthy: %s", h.Status)
		}
		return nil
	},
}
