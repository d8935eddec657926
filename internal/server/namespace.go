package server

import (
	"net/http"
	"strings"
)

// splitNamespacePath splits the captured "/namespace/*" remainder into the
// namespace (always the first segment) and whatever follows it.
func splitNamespacePath(captured string) (namespace string, rest []string, ok bool) {
	captured = strings.Trim(captured, "/")
	parts := strings.Split(captured, "/")
	if len(parts) < 2 || parts[0] == "" {
		return "", nil, false
	}
	return parts[0], parts[1:], true
}

// namespacePUT dispatches PUT /v0/namespace/{ns}/graph/{name}.
func (s *Server) namespacePUT(w http.ResponseWriter, r *http.Request) {
	ns, rest, ok := splitNamespacePath(r.PathValue("*"))
	if !ok {
		httpResponse(w, "expected /namespace/{ns}/graph/{name}", http.StatusBadRequest)
		return
	}

	if len(rest) == 2 && rest[0] == "graph" {
		s.putGraphTemplate(w, r, ns, rest[1])
		return
	}

	httpResponse(w, "unknown route", http.StatusNotFound)
}

// namespaceGET dispatches GET /v0/namespace/{ns}/graph/{name}.
func (s *Server) namespaceGET(w http.ResponseWriter, r *http.Request) {
	ns, rest, ok := splitNamespacePath(r.PathValue("*"))
	if !ok {
		httpResponse(w, "expected /namespace/{ns}/graph/{name}", http.StatusBadRequest)
		return
	}

	if len(rest) == 2 && rest[0] == "graph" {
		s.getGraphTemplate(w, r, ns, rest[1])
		return
	}

	httpResponse(w, "unknown route", http.StatusNotFound)
}

// namespacePOST dispatches the six POST routes nested under a namespace:
// graph/{name}/states/create, graph/{name}/trigger, nodes/register,
// nodes/{name}/lease, states/{id}/executed, states/{id}/errored.
func (s *Server) namespacePOST(w http.ResponseWriter, r *http.Request) {
	ns, rest, ok := splitNamespacePath(r.PathValue("*"))
	if !ok {
		httpResponse(w, "expected /namespace/{ns}/...", http.StatusBadRequest)
		return
	}

	switch {
	case len(rest) == 4 && rest[0] == "graph" && rest[2] == "states" && rest[3] == "create":
		s.createStates(w, r, ns, rest[1])
	case len(rest) == 3 && rest[0] == "graph" && rest[2] == "trigger":
		s.triggerGraph(w, r, ns, rest[1])
	case len(rest) == 2 && rest[0] == "nodes" && rest[1] == "register":
		s.registerNode(w, r, ns)
	case len(rest) == 3 && rest[0] == "nodes" && rest[2] == "lease":
		s.leaseNode(w, r, ns, rest[1])
	case len(rest) == 3 && rest[0] == "states" && rest[2] == "executed":
		s.executedState(w, r, ns, rest[1])
	case len(rest) == 3 && rest[0] == "states" && rest[2] == "errored":
		s.erroredState(w, r, ns, rest[1])
	default:
		httpResponse(w, "unknown route", http.StatusNotFound)
	}
}
