package server

import (
	"encoding/json"
	"net/http"

	"github.com/worldline-go/types"

	"github.com/rakunlabs/statemanager/internal/service"
)

// putGraphTemplate upserts a graph template at namespace/name, then
// validates it against the currently registered nodes and records the
// outcome in validation_status/validation_errors.
func (s *Server) putGraphTemplate(w http.ResponseWriter, r *http.Request, namespace, name string) {
	var g service.GraphTemplate
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	g.Namespace = namespace
	g.Name = name

	if errs := s.validator.Validate(r.Context(), g); len(errs) > 0 {
		g.ValidationStatus = service.ValidationInvalid
		g.ValidationErrors = types.Slice[string](errs)
	} else {
		g.ValidationStatus = service.ValidationValid
		g.ValidationErrors = nil
	}

	saved, err := s.engine.Graphs.PutGraphTemplate(r.Context(), g)
	if err != nil {
		httpResponse(w, "put graph template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, saved, http.StatusCreated)
}

// getGraphTemplate fetches a single graph template by namespace/name.
func (s *Server) getGraphTemplate(w http.ResponseWriter, r *http.Request, namespace, name string) {
	g, err := s.engine.Graphs.GetGraphTemplate(r.Context(), namespace, name)
	if err != nil {
		httpResponse(w, "get graph template: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if g == nil {
		httpResponse(w, "graph template not found", http.StatusNotFound)
		return
	}

	httpResponseJSON(w, g, http.StatusOK)
}
