package server

import (
	"net/http"
	"strings"
)

// OrchestratorHTTP defines the minimal surface the lifecycle router needs from
// the scan orchestrator to serve HTTP requests.
type OrchestratorHTTP interface {
	ServeScan(http.ResponseWriter, *http.Request)
	ServeHealth(http.ResponseWriter, *http.Request)
	ServeExplain(http.ResponseWriter, *http.Request)
	ServeReload(http.ResponseWriter, *http.Request)
	WriteError(http.ResponseWriter, int, string)
}

// NewOrchestratorHandler wires the HTTP routing facade to the scan
// orchestrator so the lifecycle server owns URL dispatch without embedding
// routing logic into the orchestrator itself.
func NewOrchestratorHandler(o OrchestratorHTTP) http.Handler {
	if o == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "orchestrator unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch route(r.URL.Path) {
		case "scan":
			o.ServeScan(w, r)
		case "healthz":
			o.ServeHealth(w, r)
		case "explain":
			o.ServeExplain(w, r)
		case "reload":
			o.ServeReload(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func route(path string) string {
	trimmed := strings.ToLower(strings.Trim(path, "/"))
	switch trimmed {
	case "scan", "explain", "reload":
		return trimmed
	case "health", "healthz":
		return "healthz"
	}
	return ""
}
