package server

import (
	"net/http"

	"github.com/alfredjeanlab/gamecfg/internal/model"
)

// handleCreateDraft handles POST /v1/configs/{id}/drafts.
func (s *ConfigServer) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var in createDraftInput
	if err := decodeOptionalBody(r, &in); err != nil {
		writeOpError(w, err)
		return
	}
	d, err := s.createDraft(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// handleListDrafts handles GET /v1/configs/{id}/drafts.
func (s *ConfigServer) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	status := model.DraftStatus(r.URL.Query().Get("status"))
	drafts, err := s.listDrafts(r.Context(), r.PathValue("id"), status)
	if err != nil {
		writeOpError(w, err)
		return
	}
	if drafts == nil {
		drafts = []*model.Draft{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": drafts})
}

// handleGetDraft handles GET /v1/drafts/{id}.
func (s *ConfigServer) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := s.getDraft(r.Context(), r.PathValue("id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleUpdateDraft handles PATCH /v1/drafts/{id}.
func (s *ConfigServer) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	var in updateDraftInput
	if err := decodeBody(r, &in); err != nil {
		writeOpError(w, err)
		return
	}
	d, err := s.updateDraft(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// draftActionInput is the body of the submit, deploy and reject actions.
type draftActionInput struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func decodeAction(r *http.Request) (draftActionInput, error) {
	var in draftActionInput
	err := decodeOptionalBody(r, &in)
	return in, err
}

// handleSubmitDraft handles POST /v1/drafts/{id}/submit.
func (s *ConfigServer) handleSubmitDraft(w http.ResponseWriter, r *http.Request) {
	in, err := decodeAction(r)
	if err != nil {
		writeOpError(w, err)
		return
	}
	d, err := s.submitDraft(r.Context(), r.PathValue("id"), in.Actor)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeployDraft handles POST /v1/drafts/{id}/deploy.
func (s *ConfigServer) handleDeployDraft(w http.ResponseWriter, r *http.Request) {
	in, err := decodeAction(r)
	if err != nil {
		writeOpError(w, err)
		return
	}
	d, err := s.deployDraft(r.Context(), r.PathValue("id"), in.Actor, in.Reason)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleRejectDraft handles POST /v1/drafts/{id}/reject.
func (s *ConfigServer) handleRejectDraft(w http.ResponseWriter, r *http.Request) {
	in, err := decodeAction(r)
	if err != nil {
		writeOpError(w, err)
		return
	}
	d, err := s.rejectDraft(r.Context(), r.PathValue("id"), in.Actor, in.Reason)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
