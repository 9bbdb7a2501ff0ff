package daemon

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to an error envelope and the matching HTTP status.
// An error that is not a *DaemonError is reported as INTERNAL (500). A
// malformed request body never reaches here: the handlers answer it
// themselves with an INVALID_REPO 400.
func writeError(w http.ResponseWriter, err error) {
	var derr *DaemonError
	if !errors.As(err, &derr) {
		derr = &DaemonError{Code: CodeInternal, Message: err.Error()}
	}
	writeJSON(w, httpStatusFor(derr.Code), newErrorEnvelope(derr))
}

// serveIndex handles POST /index: decode, run the indexer orchestrator,
// reply with the result or a classified error.
func (d *Daemon) serveIndex(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, newErrorEnvelope(&DaemonError{Code: CodeInvalidRepo, Message: "malformed request body"}))
		return
	}

	resp, err := d.HandleIndex(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, resp)
}

// serveQuery handles POST /query: decode, run the query orchestrator,
// reply with ranked results or a classified error.
func (d *Daemon) serveQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, newErrorEnvelope(&DaemonError{Code: CodeInvalidRepo, Message: "malformed request body"}))
		return
	}

	resp, err := d.HandleQuery(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, resp)
}

// serveStatus handles GET /status?repo_path=...: a try-lock health check
// that never blocks on a running index.
func (d *Daemon) serveStatus(w http.ResponseWriter, r *http.Request) {
	repoPath := r.URL.Query().Get("repo_path")

	resp, err := d.HandleStatus(repoPath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, resp)
}

// metricsHandler serves this Daemon's own Prometheus registry, not the
// global default one promhttp.Handler() would bind to - each Daemon
// instance (e.g. one per test) keeps its collectors isolated.
func (d *Daemon) metricsHandler() http.Handler {
	return promhttp.HandlerFor(d.metrics.Registry, promhttp.HandlerOpts{})
}
