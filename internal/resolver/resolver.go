// Package resolver computes the effective value of a config for one client.
//
// Resolve depends only on its arguments, plus the clock when the context
// carries no time. It performs no I/O, keeps no state and never modifies the
// config or rules it is given, so it is safe to call concurrently on a shared
// snapshot.
package resolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/model"
)

// Context describes the client an evaluation is made for. A zero Now means
// the current time.
type Context struct {
	Platform   string    `json:"platform,omitempty"`
	AppVersion string    `json:"app_version,omitempty"`
	Country    string    `json:"country,omitempty"`
	Segment    string    `json:"segment,omitempty"`
	Now        time.Time `json:"now"`
}

// Result is the outcome of resolving one config.
//
// A disabled config yields Disabled with no value. Otherwise Value is set and
// Matched reports whether a rule override produced it.
type Result struct {
	Value    model.Value `json:"value"`
	Matched  bool        `json:"matched"`
	RuleID   string      `json:"rule_id,omitempty"`
	Disabled bool        `json:"disabled"`
}

// client is a Context with its fields normalized for matching.
type client struct {
	platform  string
	version   model.AppVersion
	versionOK bool
	country   string
	segment   string
	now       time.Time
}

func newClient(ctx Context) client {
	c := client{
		platform: strings.ToLower(strings.TrimSpace(ctx.Platform)),
		country:  strings.ToUpper(strings.TrimSpace(ctx.Country)),
		segment:  strings.TrimSpace(ctx.Segment),
		now:      ctx.Now,
	}
	if c.now.IsZero() {
		c.now = time.Now()
	}
	if v, err := model.ParseClientVersion(ctx.AppVersion); err == nil {
		c.version, c.versionOK = v, true
	}
	return c
}

// Resolve returns the effective value of cfg for ctx.
//
// The winning rule is the enabled, matching rule with the lowest priority.
// Two enabled rules that share a priority make the rule set ambiguous; that
// is reported as a *model.IntegrityError rather than broken by a hidden
// tie-break. A stored value that no longer coerces under the config's data
// type is also an integrity error.
func Resolve(cfg *model.Config, rules []*model.Rule, ctx Context) (Result, error) {
	if !cfg.Enabled {
		return Result{Disabled: true}, nil
	}

	if p, ids, dup := model.DuplicateEnabledPriority(rules); dup {
		return Result{}, &model.IntegrityError{
			ConfigID: cfg.ID,
			Message:  fmt.Sprintf("enabled rules %s share priority %d", strings.Join(ids, ", "), p),
		}
	}

	c := newClient(ctx)
	var winner *model.Rule
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		ok, err := matches(r, c)
		if err != nil {
			return Result{}, &model.IntegrityError{ConfigID: cfg.ID, Message: err.Error()}
		}
		if ok && (winner == nil || r.Priority < winner.Priority) {
			winner = r
		}
	}

	if winner != nil {
		v, err := model.Coerce(cfg.DataType, winner.OverrideValue)
		if err != nil {
			return Result{}, &model.IntegrityError{
				ConfigID: cfg.ID,
				Message:  fmt.Sprintf("override of rule %s is not a valid %s: %v", winner.ID, cfg.DataType, err),
			}
		}
		return Result{Value: v, Matched: true, RuleID: winner.ID}, nil
	}

	v, err := model.Coerce(cfg.DataType, cfg.Value)
	if err != nil {
		return Result{}, &model.IntegrityError{
			ConfigID: cfg.ID,
			Message:  fmt.Sprintf("value is not a valid %s: %v", cfg.DataType, err),
		}
	}
	return Result{Value: v}, nil
}

// matches reports whether every non-empty condition group of r accepts c.
func matches(r *model.Rule, c client) (bool, error) {
	if len(r.Platforms) > 0 {
		ok, err := matchPlatforms(r, c)
		if err != nil || !ok {
			return false, err
		}
	}
	if len(r.Countries) > 0 && !containsFold(r.Countries, c.country) {
		return false, nil
	}
	if len(r.Segments) > 0 && !contains(r.Segments, c.segment) {
		return false, nil
	}
	if r.ActiveFrom != nil && c.now.Before(*r.ActiveFrom) {
		return false, nil
	}
	if r.ActiveUntil != nil && c.now.After(*r.ActiveUntil) {
		return false, nil
	}
	return true, nil
}

// matchPlatforms reports whether any platform condition accepts c. A client
// whose version cannot be parsed only matches unbounded conditions.
func matchPlatforms(r *model.Rule, c client) (bool, error) {
	for _, pc := range r.Platforms {
		if !strings.EqualFold(pc.Platform, c.platform) {
			continue
		}
		if pc.MinVersion == "" && pc.MaxVersion == "" {
			return true, nil
		}
		if !c.versionOK {
			continue
		}
		if pc.MinVersion != "" {
			lo, err := model.ParseRuleVersion(pc.MinVersion)
			if err != nil {
				return false, fmt.Errorf("rule %s has invalid min_version %q", r.ID, pc.MinVersion)
			}
			if c.version.Compare(lo) < 0 {
				continue
			}
		}
		if pc.MaxVersion != "" {
			hi, err := model.ParseRuleVersion(pc.MaxVersion)
			if err != nil {
				return false, fmt.Errorf("rule %s has invalid max_version %q", r.ID, pc.MaxVersion)
			}
			if c.version.Compare(hi) > 0 {
				continue
			}
		}
		return true, nil
	}
	return false, nil
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
