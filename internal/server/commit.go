package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rakunlabs/statemanager/internal/engine"
)

// commitStatusCode maps an engine commit error to the HTTP status the spec
// requires: 404 when the state doesn't exist, 400 for anything else
// (malformed body, illegal transition, downstream failures).
func commitStatusCode(err error) int {
	if errors.Is(err, engine.ErrStateNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

type executedRequest struct {
	Outputs []map[string]string `json:"outputs"`
}

// executedState handles POST /v0/namespace/{ns}/states/{state_id}/executed:
// a worker reports one or more output maps for a state it holds QUEUED.
func (s *Server) executedState(w http.ResponseWriter, r *http.Request, namespace, stateID string) {
	var req executedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.CommitExecuted(r.Context(), stateID, req.Outputs); err != nil {
		httpResponse(w, "commit executed: "+err.Error(), commitStatusCode(err))
		return
	}

	httpResponse(w, "ok", http.StatusOK)
}

type erroredRequest struct {
	Error string `json:"error"`
}

// erroredState handles POST /v0/namespace/{ns}/states/{state_id}/errored:
// a worker reports a failure for a state it holds QUEUED.
func (s *Server) erroredState(w http.ResponseWriter, r *http.Request, namespace, stateID string) {
	var req erroredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.CommitErrored(r.Context(), stateID, req.Error); err != nil {
		httpResponse(w, "commit errored: "+err.Error(), commitStatusCode(err))
		return
	}

	httpResponse(w, "ok", http.StatusOK)
}
