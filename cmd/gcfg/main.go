package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/alfredjeanlab/gamecfg/internal/client"
	"github.com/alfredjeanlab/gamecfg/internal/ui"
	"github.com/spf13/cobra"
)

var (
	httpURL    string
	grpcAddr   string
	transport  string
	token      string
	jsonOutput bool
	noColor    bool
	actor      string

	apiClient  client.ConfigClient
	evaluator  client.Evaluator
	grpcClient *client.GRPCClient
)

func defaultActor() string {
	if s := os.Getenv("GAMECFG_ACTOR"); s != "" {
		return s
	}
	out, err := exec.Command("git", "config", "user.name").Output()
	if err == nil {
		name := strings.TrimSpace(string(out))
		if name != "" {
			return name
		}
	}
	return "unknown"
}

func defaultHTTPURL() string {
	if s := os.Getenv("GAMECFG_URL"); s != "" {
		return s
	}
	if r := activeRemote(); r.URL != "" {
		return r.URL
	}
	return "http://localhost:8080"
}

func defaultGRPCAddr() string {
	if s := os.Getenv("GAMECFG_SERVER"); s != "" {
		return s
	}
	if r := activeRemote(); r.GRPCAddr != "" {
		return r.GRPCAddr
	}
	return "localhost:9090"
}

func defaultToken() string {
	if s := os.Getenv("GAMECFG_TOKEN"); s != "" {
		return s
	}
	return activeRemote().Token
}

// connect builds the management client and the evaluator the selected
// transport asks for. Management always goes over HTTP.
func connect() error {
	apiClient = client.NewHTTPClient(httpURL, token)
	switch transport {
	case "http":
		evaluator = apiClient
	case "grpc":
		c, err := client.NewGRPCClient(grpcAddr, token)
		if err != nil {
			return fmt.Errorf("failed to connect to server: %w", err)
		}
		grpcClient, evaluator = c, c
	default:
		return fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:           "gcfg <command>",
	Short:         "CLI client for the gamecfg remote configuration service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		return connect()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if grpcClient != nil {
			grpcClient.Close()
		}
		if apiClient != nil {
			apiClient.Close()
		}
	},
}

// noConnect is used as PersistentPreRunE by commands that never talk to a
// server.
func noConnect(cmd *cobra.Command, args []string) error {
	if noColor || !ui.ShouldUseColor() {
		ui.ForceNoColor()
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "url", defaultHTTPURL(), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "server", defaultGRPCAddr(), "gRPC server address (evaluation only)")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "http", "transport for evaluation (http or grpc)")
	rootCmd.PersistentFlags().StringVar(&token, "token", defaultToken(), "bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "actor recorded in the audit log")

	rootCmd.AddGroup(
		&cobra.Group{ID: "manage", Title: "Configs:"},
		&cobra.Group{ID: "workflow", Title: "Drafts & history:"},
		&cobra.Group{ID: "clients", Title: "Evaluation:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Configs
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(ruleCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	// Drafts & history
	rootCmd.AddCommand(draftCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(rollbackCmd)

	// Evaluation
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(watchCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderError("Error:"), err)
		os.Exit(1)
	}
}
