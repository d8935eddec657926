package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rakunlabs/statemanager/internal/engine"
	"github.com/rakunlabs/statemanager/internal/service"
)

func newTestServer() (*Server, *memStates) {
	states := newMemStates()
	e := engine.New(newMemGraphs(), newMemNodes(), states, &memStoreEntries{})
	return &Server{engine: e}, states
}

func postJSON(t *testing.T, handler func(http.ResponseWriter, *http.Request), body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(raw))).WithContext(context.Background())
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestExecutedStateNotFoundReturns404(t *testing.T) {
	s, _ := newTestServer()

	w := postJSON(t, func(w http.ResponseWriter, r *http.Request) {
		s.executedState(w, r, "ns", "missing")
	}, executedRequest{Outputs: []map[string]string{{}}})

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body = %s", w.Code, w.Body.String())
	}
}

func TestExecutedStateIllegalTransitionReturns400(t *testing.T) {
	s, states := newTestServer()
	if _, err := states.CreateStates(context.Background(), []service.State{{
		ID: "s1", RunID: "run-1", Namespace: "ns", GraphName: "g",
		Identifier: "root", NodeName: "root_node", Status: service.StatusCreated,
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := postJSON(t, func(w http.ResponseWriter, r *http.Request) {
		s.executedState(w, r, "ns", "s1")
	}, executedRequest{Outputs: []map[string]string{{}}})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", w.Code, w.Body.String())
	}
}

func TestErroredStateNotFoundReturns404(t *testing.T) {
	s, _ := newTestServer()

	w := postJSON(t, func(w http.ResponseWriter, r *http.Request) {
		s.erroredState(w, r, "ns", "missing")
	}, erroredRequest{Error: "boom"})

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body = %s", w.Code, w.Body.String())
	}
}

func TestErroredStateSucceedsReturns200(t *testing.T) {
	s, states := newTestServer()
	if _, err := states.CreateStates(context.Background(), []service.State{{
		ID: "s1", RunID: "run-1", Namespace: "ns", GraphName: "g",
		Identifier: "root", NodeName: "root_node", Status: service.StatusQueued,
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := postJSON(t, func(w http.ResponseWriter, r *http.Request) {
		s.erroredState(w, r, "ns", "s1")
	}, erroredRequest{Error: "boom"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}

	got, _ := states.GetState(context.Background(), "s1")
	if got.Status != service.StatusErrored {
		t.Fatalf("status = %q, want ERRORED", got.Status)
	}
}

func TestExecutedStateInvalidBodyReturns400(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json")).WithContext(context.Background())
	w := httptest.NewRecorder()
	s.executedState(w, req, "ns", "s1")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
