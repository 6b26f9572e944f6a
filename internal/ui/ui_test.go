package ui

import (
	"strings"
	"testing"

	"github.com/alfredjeanlab/gamecfg/internal/model"
)

func TestColorWanted(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		tty  bool
		want bool
	}{
		{"tty default", nil, true, true},
		{"pipe default", nil, false, false},
		{"NO_COLOR wins", map[string]string{"NO_COLOR": "1", "CLICOLOR_FORCE": "1"}, true, false},
		{"forced on pipe", map[string]string{"CLICOLOR_FORCE": "1"}, false, true},
		{"CLICOLOR=0", map[string]string{"CLICOLOR": "0"}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := func(k string) string { return tt.env[k] }
			if got := colorWanted(getenv, tt.tty); got != tt.want {
				t.Errorf("colorWanted = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenderers(t *testing.T) {
	if got := RenderDraftStatus(model.DraftStatusDeployed); !strings.Contains(got, "deployed") || !strings.HasPrefix(got, "\x1b[38;5;114m") {
		t.Errorf("RenderDraftStatus = %q", got)
	}
	if got := RenderChangeType(model.ChangeRuleDeleted); !strings.HasPrefix(got, "\x1b[38;5;203m") {
		t.Errorf("RenderChangeType = %q", got)
	}
	if got := RenderMuted(""); got != "" {
		t.Errorf("empty string should stay empty, got %q", got)
	}

	ForceNoColor()
	t.Cleanup(func() { noColor = false })
	if got := RenderEnvironment(model.EnvProduction); got != "production" {
		t.Errorf("RenderEnvironment without color = %q", got)
	}
	if got := RenderEnabled(false); got != "no" {
		t.Errorf("RenderEnabled = %q", got)
	}
}
