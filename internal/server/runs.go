package server

import (
	"encoding/json"
	"net/http"

	"github.com/rakunlabs/statemanager/internal/engine"
	"github.com/rakunlabs/statemanager/internal/service"
)

type createStatesRequest struct {
	RunID  string                        `json:"run_id"`
	States []engine.CreateStateRequest   `json:"states"`
}

type createStatesResponse struct {
	RunID  string          `json:"run_id"`
	States []service.State `json:"states"`
}

// createStates handles POST /v0/namespace/{ns}/graph/{name}/states/create:
// materialize CREATED states against a caller-provided run_id.
func (s *Server) createStates(w http.ResponseWriter, r *http.Request, namespace, graphName string) {
	var req createStatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.RunID == "" {
		httpResponse(w, "run_id is required", http.StatusBadRequest)
		return
	}
	if len(req.States) == 0 {
		httpResponse(w, "states is required", http.StatusBadRequest)
		return
	}

	states, err := s.engine.CreateStates(r.Context(), namespace, graphName, req.RunID, req.States)
	if err != nil {
		httpResponse(w, "create states: "+err.Error(), http.StatusBadRequest)
		return
	}

	httpResponseJSON(w, createStatesResponse{RunID: req.RunID, States: states}, http.StatusCreated)
}

type triggerRequest struct {
	States []engine.CreateStateRequest `json:"states"`
}

// triggerGraph handles POST /v0/namespace/{ns}/graph/{name}/trigger:
// allocates a fresh run_id, seeds the run's store, and creates states.
func (s *Server) triggerGraph(w http.ResponseWriter, r *http.Request, namespace, graphName string) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.States) == 0 {
		httpResponse(w, "states is required", http.StatusBadRequest)
		return
	}

	runID, states, err := s.engine.Trigger(r.Context(), namespace, graphName, req.States)
	if err != nil {
		httpResponse(w, "trigger: "+err.Error(), http.StatusBadRequest)
		return
	}

	httpResponseJSON(w, createStatesResponse{RunID: runID, States: states}, http.StatusCreated)
}
