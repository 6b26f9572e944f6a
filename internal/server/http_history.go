package server

import (
	"net/http"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/model"
)

// historyQuery reads the common history filters from the query string.
func historyQuery(r *http.Request) (model.HistoryQuery, error) {
	q := r.URL.Query()
	var hq model.HistoryQuery
	for name, dst := range map[string]*time.Time{"since": &hq.Since, "until": &hq.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return hq, inputError("invalid " + name + ": expected RFC 3339 time")
		}
		*dst = t
	}
	switch q.Get("order") {
	case "", "asc":
	case "desc":
		hq.Descending = true
	default:
		return hq, inputError("order must be asc or desc")
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return hq, err
	}
	hq.Limit = limit
	return hq, nil
}

func (s *ConfigServer) writeHistory(w http.ResponseWriter, r *http.Request, hq model.HistoryQuery) {
	entries, err := s.queryHistory(r.Context(), hq)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleConfigHistory handles GET /v1/configs/{id}/history.
func (s *ConfigServer) handleConfigHistory(w http.ResponseWriter, r *http.Request) {
	hq, err := historyQuery(r)
	if err != nil {
		writeOpError(w, err)
		return
	}
	hq.ConfigID = r.PathValue("id")
	s.writeHistory(w, r, hq)
}

// handleRuleHistory handles GET /v1/rules/{id}/history.
func (s *ConfigServer) handleRuleHistory(w http.ResponseWriter, r *http.Request) {
	hq, err := historyQuery(r)
	if err != nil {
		writeOpError(w, err)
		return
	}
	hq.RuleID = r.PathValue("id")
	s.writeHistory(w, r, hq)
}

// handleRollback handles POST /v1/configs/{id}/rollback.
func (s *ConfigServer) handleRollback(w http.ResponseWriter, r *http.Request) {
	var in rollbackInput
	if err := decodeBody(r, &in); err != nil {
		writeOpError(w, err)
		return
	}
	cfg, err := s.rollback(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
