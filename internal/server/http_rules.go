package server

import (
	"net/http"

	"github.com/alfredjeanlab/gamecfg/internal/model"
)

// handleCreateRule handles POST /v1/configs/{id}/rules.
func (s *ConfigServer) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var in createRuleInput
	if err := decodeBody(r, &in); err != nil {
		writeOpError(w, err)
		return
	}
	rule, err := s.createRule(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// handleListRules handles GET /v1/configs/{id}/rules.
func (s *ConfigServer) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.listRules(r.Context(), r.PathValue("id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	if rules == nil {
		rules = []*model.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// handleUpdateRule handles PATCH /v1/configs/{id}/rules/{rule_id}.
func (s *ConfigServer) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	in, err := decodePatch(r)
	if err != nil {
		writeOpError(w, err)
		return
	}
	rule, err := s.updateRule(r.Context(), r.PathValue("id"), r.PathValue("rule_id"), in)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleDeleteRule handles DELETE /v1/configs/{id}/rules/{rule_id}.
func (s *ConfigServer) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	meta, err := queryMeta(r)
	if err != nil {
		writeOpError(w, err)
		return
	}
	err = s.deleteRule(r.Context(), r.PathValue("id"), r.PathValue("rule_id"), meta.ExpectedVersion, meta.Actor, meta.Reason)
	if err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReorderRules handles POST /v1/configs/{id}/rules/reorder.
func (s *ConfigServer) handleReorderRules(w http.ResponseWriter, r *http.Request) {
	var in reorderInput
	if err := decodeBody(r, &in); err != nil {
		writeOpError(w, err)
		return
	}
	rules, err := s.reorderRules(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}
