package server

import (
	"encoding/json"
	"net/http"

	"github.com/rakunlabs/statemanager/internal/service"
)

// registerNode is the runtime handshake: a worker fleet declares a node
// type's input/output schemas, required secrets, and retry policy. Upserted
// by (namespace, name) — re-registering the same key overwrites in place.
func (s *Server) registerNode(w http.ResponseWriter, r *http.Request, namespace string) {
	var node service.RegisteredNode
	if err := json.NewDecoder(r.Body).Decode(&node); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	node.Namespace = namespace

	if node.Name == "" {
		httpResponse(w, "name is required", http.StatusBadRequest)
		return
	}

	saved, err := s.engine.Nodes.RegisterNode(r.Context(), node)
	if err != nil {
		httpResponse(w, "register node: "+err.Error(), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, saved, http.StatusOK)
}
