package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rcourtman/pulse-findings/internal/approval"
)

// handleApprovals serves GET /api/approvals: the live pending set.
func (r *Router) handleApprovals(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	pending := r.approvals.Pending()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"approvals": pending,
		"count":     len(pending),
	})
}

// handleApprovalAction routes POST /api/approvals/<id>/approve|deny. These
// operate on a finding through its approval, so the dispatcher's per-finding
// guard still applies.
func (r *Router) handleApprovalAction(w http.ResponseWriter, req *http.Request) {
	id, action := splitAction(req.URL.Path, "/api/approvals/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if req.Method == http.MethodGet && action == "" {
		a, err := r.approvals.Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "approval not found")
			return
		}
		writeJSON(w, http.StatusOK, a)
		return
	}
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	a, err := r.approvals.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "approval not found")
		return
	}
	findingID := a.TargetID
	dispatcher := r.engine.Dispatcher()

	switch action {
	case "approve":
		err = dispatcher.ApproveFix(req.Context(), findingID, id)
		if err == nil {
			// Keep the local mirror in step until the next refresh reconciles.
			r.approvals.Approve(id, actor(req))
		}
	case "deny":
		var body struct {
			Reason string `json:"reason"`
		}
		if req.Body != nil {
			json.NewDecoder(req.Body).Decode(&body) // reason is optional
		}
		err = dispatcher.DenyFix(req.Context(), findingID, id, body.Reason)
		if err == nil {
			r.approvals.Deny(id, actor(req), body.Reason)
		}
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	r.audit(req, action+"_fix", findingID, id, err)
	if err != nil {
		if errors.Is(err, approval.ErrExpired) || errors.Is(err, approval.ErrNotPending) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeActionError(w, err)
		return
	}
	if r.hub != nil {
		r.hub.NotifyFindingsChanged()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleAudit serves GET /api/audit: recent operator actions.
func (r *Router) handleAudit(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.auditLog == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": []interface{}{}})
		return
	}
	entries, err := r.auditLog.Recent(req.Context(), 200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit log unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
