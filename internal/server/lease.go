package server

import (
	"encoding/json"
	"net/http"

	"github.com/rakunlabs/statemanager/internal/service"
)

type leaseRequest struct {
	BatchSize int `json:"batch_size"`
}

type leaseResponse struct {
	States []service.State `json:"states"`
}

// leaseNode handles POST /v0/namespace/{ns}/nodes/{node_name}/lease: a
// worker polls for up to batch_size CREATED states matching this node name,
// claiming them atomically and returning resolved inputs.
func (s *Server) leaseNode(w http.ResponseWriter, r *http.Request, namespace, nodeName string) {
	var req leaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 1
	}

	states, err := s.dispatcher.Lease(r.Context(), namespace, []string{nodeName}, req.BatchSize)
	if err != nil {
		httpResponse(w, "lease: "+err.Error(), http.StatusBadRequest)
		return
	}

	httpResponseJSON(w, leaseResponse{States: states}, http.StatusOK)
}
