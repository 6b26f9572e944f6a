package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/store"
)

// FormatVersion identifies the layout of an export.
const FormatVersion = "1"

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	ConfigCount  int       `json:"config_count"`
	RuleCount    int       `json:"rule_count"`
	HistoryCount int       `json:"history_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every config, rule and history entry in the store as
// JSONL to w. Configs come in (game, environment, key) order, rules in
// (config, priority) order and history in the order it was written. The
// whole export is read in one transaction so it is a consistent snapshot.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer, now time.Time) error {
	var (
		configs []*model.Config
		rules   []*model.Rule
		history []*model.HistoryEntry
	)
	err := s.RunReadOnly(ctx, func(tx store.Store) error {
		var err error
		if configs, _, err = tx.ListConfigs(ctx, model.ConfigFilter{}); err != nil {
			return fmt.Errorf("list configs: %w", err)
		}
		if rules, err = tx.ListAllRules(ctx); err != nil {
			return fmt.Errorf("list rules: %w", err)
		}
		for e, err := range tx.QueryHistory(ctx, model.HistoryQuery{}) {
			if err != nil {
				return fmt.Errorf("query history: %w", err)
			}
			history = append(history, e)
		}
		return nil
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      FormatVersion,
		Type:         "header",
		Timestamp:    now.UTC(),
		ConfigCount:  len(configs),
		RuleCount:    len(rules),
		HistoryCount: len(history),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, c := range configs {
		if err := enc.Encode(record{Type: "config", Data: c}); err != nil {
			return fmt.Errorf("encode config %s: %w", c.ID, err)
		}
	}
	for _, r := range rules {
		if err := enc.Encode(record{Type: "rule", Data: r}); err != nil {
			return fmt.Errorf("encode rule %s: %w", r.ID, err)
		}
	}
	for _, e := range history {
		if err := enc.Encode(record{Type: "history", Data: e}); err != nil {
			return fmt.Errorf("encode history entry %d: %w", e.ID, err)
		}
	}
	return nil
}
