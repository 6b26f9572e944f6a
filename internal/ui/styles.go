// Package ui holds the terminal styling used by the gcfg CLI.
package ui

import (
	"fmt"

	"github.com/alfredjeanlab/gamecfg/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 179 // amber
	colorError  = 203 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor || s == "" {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderOK returns s in green.
func RenderOK(s string) string { return paint(colorOK, s) }

// RenderWarn returns s in amber.
func RenderWarn(s string) string { return paint(colorWarn, s) }

// RenderError returns s in red.
func RenderError(s string) string { return paint(colorError, s) }

// RenderEnabled renders an enabled flag as a colored yes/no.
func RenderEnabled(enabled bool) string {
	if enabled {
		return RenderOK("yes")
	}
	return RenderMuted("no")
}

// RenderDraftStatus colors a draft status by how far along it is.
func RenderDraftStatus(s model.DraftStatus) string {
	switch s {
	case model.DraftStatusPending:
		return RenderWarn(s.String())
	case model.DraftStatusDeployed:
		return RenderOK(s.String())
	case model.DraftStatusRejected:
		return RenderError(s.String())
	}
	return RenderMuted(s.String())
}

// RenderChangeType colors a history change type: creations green, deletions
// red, rollbacks amber, everything else in the accent color.
func RenderChangeType(c model.ChangeType) string {
	switch c {
	case model.ChangeConfigCreated, model.ChangeRuleCreated:
		return RenderOK(c.String())
	case model.ChangeConfigDeleted, model.ChangeRuleDeleted:
		return RenderError(c.String())
	case model.ChangeConfigRolledBack:
		return RenderWarn(c.String())
	}
	return RenderAccent(c.String())
}

// RenderEnvironment highlights production so it is hard to miss.
func RenderEnvironment(e model.Environment) string {
	if e == model.EnvProduction {
		return RenderWarn(e.String())
	}
	return e.String()
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
