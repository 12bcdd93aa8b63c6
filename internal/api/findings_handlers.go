package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rcourtman/pulse-findings/internal/approval"
	"github.com/rcourtman/pulse-findings/internal/findings"
)

// handleFindings serves GET /api/findings with the query surface:
// sortBy=severity|time, status=active|resolved|attention|approvals,
// resource=<id>, ids=<comma list>, limit=<n>, patrolOnly=true.
func (r *Router) handleFindings(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	qp := req.URL.Query()

	q := findings.Query{
		SortBy:     findings.SortBySeverity,
		Bucket:     findings.StatusBucket(qp.Get("status")),
		ResourceID: qp.Get("resource"),
		PatrolOnly: qp.Get("patrolOnly") == "true",
	}
	if qp.Get("sortBy") == string(findings.SortByTime) {
		q.SortBy = findings.SortByTime
	}
	if ids := qp.Get("ids"); ids != "" {
		q.IDs = strings.Split(ids, ",")
	}
	if limit := qp.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.MaxItems = n
	}

	switch q.Bucket {
	case findings.BucketAll, findings.BucketActive, findings.BucketResolved,
		findings.BucketAttention, findings.BucketApprovals:
	default:
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	views := r.engine.Query(req.Context(), q, r.scope)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"findings": views,
		"count":    len(views),
	})
}

func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, r.engine.Summarize())
}

// handleFindingAction routes /api/findings/<id>/<action>.
func (r *Router) handleFindingAction(w http.ResponseWriter, req *http.Request) {
	id, action := splitAction(req.URL.Path, "/api/findings/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if req.Method == http.MethodGet {
		switch action {
		case "":
			f, err := r.engine.Store().Get(id)
			if err != nil {
				writeError(w, http.StatusNotFound, "finding not found")
				return
			}
			writeJSON(w, http.StatusOK, f)
		case "history":
			r.serveHistory(w, req, id)
		case "audit":
			r.serveFindingAudit(w, req, id)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
		return
	}
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if _, getErr := r.engine.Store().Get(id); getErr != nil {
		writeError(w, http.StatusNotFound, "finding not found")
		return
	}

	dispatcher := r.engine.Dispatcher()
	var err error
	var detail string
	switch action {
	case "acknowledge":
		err = dispatcher.Acknowledge(req.Context(), id)
	case "snooze":
		var body struct {
			Hours float64 `json:"hours"`
		}
		if decodeErr := json.NewDecoder(req.Body).Decode(&body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		detail = strconv.FormatFloat(body.Hours, 'f', -1, 64) + "h"
		err = dispatcher.Snooze(req.Context(), id, body.Hours)
	case "dismiss":
		var body struct {
			Reason string `json:"reason"`
			Note   string `json:"note"`
		}
		if decodeErr := json.NewDecoder(req.Body).Decode(&body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		detail = body.Reason
		err = dispatcher.Dismiss(req.Context(), id, findings.DismissedReason(body.Reason), body.Note)
	case "note":
		var body struct {
			Note string `json:"note"`
		}
		if decodeErr := json.NewDecoder(req.Body).Decode(&body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		err = dispatcher.SetNote(req.Context(), id, body.Note)
	case "reapprove-fix":
		lapsed := r.approvals.ExpiredForTarget(approval.ToolInvestigationFix, id)
		err = dispatcher.ReapproveAndExecute(req.Context(), id)
		if err == nil && lapsed != nil {
			r.recordReapproval(actor(req), lapsed)
		}
	case "execute-plan":
		var body struct {
			PlanID string `json:"planId"`
		}
		if decodeErr := json.NewDecoder(req.Body).Decode(&body); decodeErr != nil || body.PlanID == "" {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		detail = body.PlanID
		err = dispatcher.ExecutePlan(req.Context(), id, body.PlanID)
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	r.audit(req, action, id, detail, err)
	if err != nil {
		writeActionError(w, err)
		return
	}
	if r.hub != nil {
		r.hub.NotifyFindingsChanged()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (r *Router) serveHistory(w http.ResponseWriter, req *http.Request, id string) {
	limit := 20
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := r.engine.History(id, limit)
	if err != nil {
		writeError(w, http.StatusNotFound, "finding not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": events})
}

func (r *Router) serveFindingAudit(w http.ResponseWriter, req *http.Request, id string) {
	if r.auditLog == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": []interface{}{}})
		return
	}
	entries, err := r.auditLog.ForFinding(req.Context(), id, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit log unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// recordReapproval mirrors a re-approval in the local approval store. The
// lapsed request stays as history; a fresh one is created, approved, and
// consumed in one step so the audit trail shows who re-issued the command.
func (r *Router) recordReapproval(decidedBy string, lapsed *approval.Request) *approval.Request {
	fresh, err := r.approvals.Create(lapsed.ToolID, lapsed.Command, lapsed.TargetType,
		lapsed.TargetID, lapsed.TargetName, lapsed.Context, 0)
	if err != nil {
		return nil
	}
	if _, err := r.approvals.Approve(fresh.ID, decidedBy); err != nil {
		return fresh
	}
	r.approvals.Consume(fresh.ID, lapsed.Command)
	return fresh
}

func (r *Router) audit(req *http.Request, action, findingID, detail string, err error) {
	if r.auditLog == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
		if errors.Is(err, findings.ErrActionInFlight) {
			result = "rejected"
		}
	}
	r.auditLog.Record(actor(req), action, findingID, detail, result)
}

// writeActionError maps engine errors to HTTP statuses.
func writeActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, findings.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, findings.ErrActionInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, findings.ErrInvalidTransition), errors.Is(err, findings.ErrInvalidReason):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, findings.ErrDispatcherClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
