// Package api serves the findings dashboard HTTP surface.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/pulse-findings/internal/approval"
	"github.com/rcourtman/pulse-findings/internal/audit"
	"github.com/rcourtman/pulse-findings/internal/findings"
	"github.com/rcourtman/pulse-findings/internal/websocket"
)

// Router wires the HTTP handlers.
type Router struct {
	mux       *http.ServeMux
	engine    *findings.Engine
	approvals *approval.Store
	auditLog  *audit.Store
	hub       *websocket.Hub
	scope     findings.Scope
}

// NewRouter builds the router. auditLog and hub may be nil in tests.
func NewRouter(engine *findings.Engine, approvals *approval.Store, auditLog *audit.Store, hub *websocket.Hub, scope findings.Scope) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		engine:    engine,
		approvals: approvals,
		auditLog:  auditLog,
		hub:       hub,
		scope:     scope,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/api/findings", r.handleFindings)
	r.mux.HandleFunc("/api/findings/", r.handleFindingAction)
	r.mux.HandleFunc("/api/findings-summary", r.handleSummary)
	r.mux.HandleFunc("/api/approvals", r.handleApprovals)
	r.mux.HandleFunc("/api/approvals/", r.handleApprovalAction)
	r.mux.HandleFunc("/api/audit", r.handleAudit)
	r.mux.HandleFunc("/healthz", r.handleHealth)
	r.mux.Handle("/metrics", promhttp.Handler())
	if r.hub != nil {
		r.mux.HandleFunc("/ws", r.hub.HandleWebSocket)
	}
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	r.mux.ServeHTTP(w, req)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// actor extracts the acting user for the audit trail. Auth is terminated
// upstream; the proxy passes the identity through.
func actor(req *http.Request) string {
	if u := req.Header.Get("X-Forwarded-User"); u != "" {
		return u
	}
	return "operator"
}

// splitAction splits "/api/findings/<id>/<action>" into id and action.
func splitAction(path, prefix string) (string, string) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	action := ""
	if len(parts) == 2 {
		action = strings.Trim(parts[1], "/")
	}
	return id, action
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": r.clientCount(),
	})
}

func (r *Router) clientCount() int {
	if r.hub == nil {
		return 0
	}
	return r.hub.ClientCount()
}
