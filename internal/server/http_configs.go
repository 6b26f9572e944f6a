package server

import (
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/gamecfg/internal/model"
)

// handleCreateConfig handles POST /v1/configs.
func (s *ConfigServer) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var in createConfigInput
	if err := decodeBody(r, &in); err != nil {
		writeOpError(w, err)
		return
	}
	cfg, err := s.createConfig(r.Context(), in)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// handleListConfigs handles GET /v1/configs.
func (s *ConfigServer) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ConfigFilter{
		GameID:      q.Get("game_id"),
		Environment: model.Environment(q.Get("environment")),
		KeyPrefix:   q.Get("key_prefix"),
	}
	if v := q.Get("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid enabled "+strconv.Quote(v))
			return
		}
		filter.Enabled = &b
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		writeOpError(w, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		writeOpError(w, err)
		return
	}

	configs, total, err := s.listConfigs(r.Context(), filter)
	if err != nil {
		writeOpError(w, err)
		return
	}
	if configs == nil {
		configs = []*model.Config{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"configs": configs,
		"total":   total,
	})
}

// handleGetConfig handles GET /v1/configs/{id}.
func (s *ConfigServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.getConfig(r.Context(), r.PathValue("id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleUpdateConfig handles PATCH /v1/configs/{id}.
func (s *ConfigServer) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	in, err := decodePatch(r)
	if err != nil {
		writeOpError(w, err)
		return
	}
	cfg, err := s.updateConfig(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleDeleteConfig handles DELETE /v1/configs/{id}.
func (s *ConfigServer) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	meta, err := queryMeta(r)
	if err != nil {
		writeOpError(w, err)
		return
	}
	if err := s.deleteConfig(r.Context(), r.PathValue("id"), meta.ExpectedVersion, meta.Actor, meta.Reason); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
