package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alfredjeanlab/gamecfg/internal/events"
	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/ui"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

// formatEvent renders one bus payload as a line of text.
func formatEvent(payload []byte) string {
	var probe struct {
		ChangeType model.ChangeType `json:"change_type"`
		Draft      *model.Draft     `json:"draft"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return string(payload)
	}
	switch {
	case probe.ChangeType != "":
		var c events.Changed
		if err := json.Unmarshal(payload, &c); err != nil {
			return string(payload)
		}
		line := fmt.Sprintf("%s %s %s/%s/%s v%d by %s",
			c.ChangedAt.Format(timeLayout), ui.RenderChangeType(c.ChangeType),
			c.GameID, c.Environment, c.Key, c.Version, c.Actor)
		if c.RuleID != "" {
			line += " (rule " + c.RuleID + ")"
		}
		return line
	case probe.Draft != nil:
		var d events.DraftChanged
		if err := json.Unmarshal(payload, &d); err != nil {
			return string(payload)
		}
		return fmt.Sprintf("%s draft %s of %s is %s (%s)",
			d.Draft.UpdatedAt.Format(timeLayout), d.Draft.ID, d.Draft.ConfigID, ui.RenderDraftStatus(d.Draft.Status), d.Actor)
	}
	return ui.RenderMuted(string(payload))
}

var watchCmd = &cobra.Command{
	Use:               "watch",
	Short:             "Stream change events from the bus",
	GroupID:           "clients",
	Args:              cobra.NoArgs,
	PersistentPreRunE: noConnect,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL == "" {
			natsURL = os.Getenv("GAMECFG_NATS_URL")
		}
		if natsURL == "" {
			natsURL = activeRemote().NATSURL
		}
		if natsURL == "" {
			return fmt.Errorf("no NATS URL: pass --nats, set GAMECFG_NATS_URL or add one to the active remote")
		}
		topic, _ := cmd.Flags().GetString("topic")

		sub, err := events.NewNATSSubscriber(natsURL,
			nats.Name("gcfg-watch"),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					fmt.Fprintln(os.Stderr, ui.RenderWarn("disconnected: "+err.Error()))
				}
			}),
			nats.ReconnectHandler(func(*nats.Conn) {
				fmt.Fprintln(os.Stderr, ui.RenderOK("reconnected"))
			}),
		)
		if err != nil {
			return err
		}
		defer sub.Close()

		msgs, cancel, err := sub.Subscribe(topic)
		if err != nil {
			return err
		}
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		fmt.Fprintln(os.Stderr, ui.RenderMuted("watching "+topic+" on "+natsURL))
		for {
			select {
			case <-sigCh:
				return nil
			case payload, ok := <-msgs:
				if !ok {
					return nil
				}
				if jsonOutput {
					fmt.Fprintln(stdout, string(payload))
					continue
				}
				fmt.Fprintln(stdout, formatEvent(payload))
			}
		}
	},
}

func init() {
	watchCmd.Flags().String("nats", "", "NATS URL (defaults to GAMECFG_NATS_URL or the active remote)")
	watchCmd.Flags().String("topic", events.TopicAll, "subject to watch (NATS wildcards allowed)")
}
