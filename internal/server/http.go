package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/gamecfg/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health and
// GET /metrics) must include a valid Authorization: Bearer <token> header.
// An evaluation-only server exposes no management routes. gatherer may be
// nil to leave /metrics out.
func (s *ConfigServer) NewHTTPHandler(authToken string, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("POST /v1/evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /v1/evaluate/batch", s.handleEvaluateBatch)
	if gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(gatherer))
	}

	if !s.ReadOnly() {
		mux.HandleFunc("POST /v1/configs", s.handleCreateConfig)
		mux.HandleFunc("GET /v1/configs", s.handleListConfigs)
		mux.HandleFunc("GET /v1/configs/{id}", s.handleGetConfig)
		mux.HandleFunc("PATCH /v1/configs/{id}", s.handleUpdateConfig)
		mux.HandleFunc("DELETE /v1/configs/{id}", s.handleDeleteConfig)

		mux.HandleFunc("POST /v1/configs/{id}/rules", s.handleCreateRule)
		mux.HandleFunc("GET /v1/configs/{id}/rules", s.handleListRules)
		mux.HandleFunc("POST /v1/configs/{id}/rules/reorder", s.handleReorderRules)
		mux.HandleFunc("PATCH /v1/configs/{id}/rules/{rule_id}", s.handleUpdateRule)
		mux.HandleFunc("DELETE /v1/configs/{id}/rules/{rule_id}", s.handleDeleteRule)

		mux.HandleFunc("POST /v1/configs/{id}/drafts", s.handleCreateDraft)
		mux.HandleFunc("GET /v1/configs/{id}/drafts", s.handleListDrafts)
		mux.HandleFunc("GET /v1/drafts/{id}", s.handleGetDraft)
		mux.HandleFunc("PATCH /v1/drafts/{id}", s.handleUpdateDraft)
		mux.HandleFunc("POST /v1/drafts/{id}/submit", s.handleSubmitDraft)
		mux.HandleFunc("POST /v1/drafts/{id}/deploy", s.handleDeployDraft)
		mux.HandleFunc("POST /v1/drafts/{id}/reject", s.handleRejectDraft)

		mux.HandleFunc("GET /v1/configs/{id}/history", s.handleConfigHistory)
		mux.HandleFunc("GET /v1/rules/{id}/history", s.handleRuleHistory)
		mux.HandleFunc("POST /v1/configs/{id}/rollback", s.handleRollback)

		mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	}

	var h http.Handler = mux
	h = AuthMiddleware(authToken, h)
	h = MetricsMiddleware(s.metrics, mux, h)
	h = RequestIDMiddleware(h)
	return RecoveryMiddleware(h)
}

// handleHealth handles GET /v1/health.
func (s *ConfigServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.liveSnapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"read_only":     s.ReadOnly(),
		"snapshot_hash": snap.Hash,
		"configs":       snap.Len(),
	})
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return inputError("invalid JSON body: " + err.Error())
	}
	return nil
}

// decodeOptionalBody is decodeBody for requests whose body may be empty.
func decodeOptionalBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return inputError("invalid JSON body: " + err.Error())
	}
	return nil
}

// patchMeta are the non-field members of a PATCH body.
type patchMeta struct {
	ExpectedVersion int64  `json:"expected_version"`
	Actor           string `json:"actor"`
	Reason          string `json:"reason"`
}

// decodePatch splits a PATCH body into its metadata and the fields to change.
func decodePatch(r *http.Request) (updateInput, error) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		return updateInput{}, inputError("invalid JSON body: " + err.Error())
	}
	var meta patchMeta
	for _, name := range []string{"expected_version", "actor", "reason"} {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		delete(fields, name)
		var err error
		switch name {
		case "expected_version":
			err = json.Unmarshal(raw, &meta.ExpectedVersion)
		case "actor":
			err = json.Unmarshal(raw, &meta.Actor)
		case "reason":
			err = json.Unmarshal(raw, &meta.Reason)
		}
		if err != nil {
			return updateInput{}, inputError(fmt.Sprintf("invalid %s: %v", name, err))
		}
	}
	if len(fields) == 0 {
		return updateInput{}, inputError("no fields to update")
	}
	return updateInput{
		ExpectedVersion: meta.ExpectedVersion,
		Patch:           fields,
		Actor:           meta.Actor,
		Reason:          meta.Reason,
	}, nil
}

// queryMeta reads mutation metadata from the query string, for requests
// without a body.
func queryMeta(r *http.Request) (patchMeta, error) {
	q := r.URL.Query()
	meta := patchMeta{Actor: q.Get("actor"), Reason: q.Get("reason")}
	if v := q.Get("expected_version"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return meta, inputError(fmt.Sprintf("invalid expected_version %q", v))
		}
		meta.ExpectedVersion = n
	}
	return meta, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, inputError(fmt.Sprintf("invalid %s %q", name, v))
	}
	return n, nil
}
