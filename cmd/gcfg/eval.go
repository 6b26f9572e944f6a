package main

import (
	"fmt"

	"github.com/alfredjeanlab/gamecfg/internal/evalrpc"
	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/spf13/cobra"
)

var evalCmd = &cobra.Command{
	Use:     "eval <game> <environment> [<key>]",
	Short:   "Resolve values the way a game client would (all keys when no key is given)",
	GroupID: "clients",
	Args:    cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		platform, _ := cmd.Flags().GetString("platform")
		appVersion, _ := cmd.Flags().GetString("app-version")
		country, _ := cmd.Flags().GetString("country")
		segment, _ := cmd.Flags().GetString("segment")
		cc := evalrpc.ClientContext{Platform: platform, AppVersion: appVersion, Country: country, Segment: segment}

		if len(args) == 3 {
			resp, err := evaluator.Evaluate(ctx, &evalrpc.EvaluateRequest{
				GameID:        args[0],
				Environment:   model.Environment(args[1]),
				Key:           args[2],
				ClientContext: cc,
			})
			if err != nil {
				return fmt.Errorf("evaluating %s: %w", args[2], err)
			}
			if jsonOutput {
				return printJSON(resp)
			}
			printEvaluation(resp)
			return nil
		}

		resp, err := evaluator.EvaluateBatch(ctx, &evalrpc.EvaluateBatchRequest{
			GameID:        args[0],
			Environment:   model.Environment(args[1]),
			ClientContext: cc,
		})
		if err != nil {
			return fmt.Errorf("evaluating: %w", err)
		}
		if jsonOutput {
			return printJSON(resp)
		}
		for _, r := range resp.Results {
			printEvaluation(r)
		}
		return nil
	},
}

func init() {
	evalCmd.Flags().String("platform", "", "client platform (ios, android, ...)")
	evalCmd.Flags().String("app-version", "", "client app version")
	evalCmd.Flags().String("country", "", "client country (ISO 3166-1 alpha-2)")
	evalCmd.Flags().String("segment", "", "client segment")
}
