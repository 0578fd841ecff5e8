package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubOrchestrator struct {
	serveScanCalls    int
	serveHealthCalls  int
	serveExplainCalls int
	serveReloadCalls  int
}

func (s *stubOrchestrator) ServeScan(w http.ResponseWriter, r *http.Request) {
	s.serveScanCalls++
	w.WriteHeader(http.StatusOK)
}

func (s *stubOrchestrator) ServeHealth(w http.ResponseWriter, r *http.Request) {
	s.serveHealthCalls++
	w.WriteHeader(http.StatusOK)
}

func (s *stubOrchestrator) ServeExplain(w http.ResponseWriter, r *http.Request) {
	s.serveExplainCalls++
	w.WriteHeader(http.StatusOK)
}

func (s *stubOrchestrator) ServeReload(w http.ResponseWriter, r *http.Request) {
	s.serveReloadCalls++
	w.WriteHeader(http.StatusOK)
}

func (s *stubOrchestrator) WriteError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}

func TestRoute(t *testing.T) {
	cases := map[string]struct {
		path  string
		route string
	}{
		"scan":           {path: "/scan", route: "scan"},
		"health alias":   {path: "/health", route: "healthz"},
		"healthz":        {path: "/healthz", route: "healthz"},
		"explain":        {path: "/explain", route: "explain"},
		"reload":         {path: "/reload", route: "reload"},
		"trailing slash": {path: "/scan/", route: "scan"},
		"mixed case":     {path: "/Scan", route: "scan"},
		"unknown":        {path: "/other", route: ""},
		"root":           {path: "/", route: ""},
		"nested":         {path: "/scan/extra", route: ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := route(tc.path); got != tc.route {
				t.Fatalf("route(%q) = %q, want %q", tc.path, got, tc.route)
			}
		})
	}
}

func TestHandlerDispatch(t *testing.T) {
	stub := &stubOrchestrator{}
	handler := NewOrchestratorHandler(stub)

	paths := []string{"/scan", "/healthz", "/explain", "/reload"}
	for _, path := range paths {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", path, rec.Code)
		}
	}
	if stub.serveScanCalls != 1 || stub.serveHealthCalls != 1 || stub.serveExplainCalls != 1 || stub.serveReloadCalls != 1 {
		t.Fatalf("unexpected dispatch counts: %+v", stub)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestHandlerWithoutOrchestrator(t *testing.T) {
	handler := NewOrchestratorHandler(nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
