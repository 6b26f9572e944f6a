package server

import (
	"net/http"

	"github.com/alfredjeanlab/gamecfg/internal/evalrpc"
)

// handleEvaluate handles POST /v1/evaluate.
func (s *ConfigServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evalrpc.EvaluateRequest
	if err := decodeBody(r, &req); err != nil {
		writeOpError(w, err)
		return
	}
	resp, err := s.evaluate(r.Context(), "http", &req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvaluateBatch handles POST /v1/evaluate/batch.
func (s *ConfigServer) handleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req evalrpc.EvaluateBatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeOpError(w, err)
		return
	}
	resp, err := s.evaluateBatch(r.Context(), "http", &req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
