package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rcourtman/pulse-findings/internal/approval"
	"github.com/rcourtman/pulse-findings/internal/findings"
	"github.com/rcourtman/pulse-findings/internal/investigation"
	"github.com/rcourtman/pulse-findings/internal/remediation"
)

// okRemote accepts every action without talking to a backend.
type okRemote struct{}

func (okRemote) AcknowledgeFinding(ctx context.Context, id string) error { return nil }
func (okRemote) DismissFinding(ctx context.Context, id string, reason findings.DismissedReason, note string) error {
	return nil
}
func (okRemote) SnoozeFinding(ctx context.Context, id string, hours float64) error { return nil }
func (okRemote) SetFindingNote(ctx context.Context, id, text string) error         { return nil }
func (okRemote) ApproveInvestigationFix(ctx context.Context, approvalID string) (*findings.ExecutionResult, error) {
	return &findings.ExecutionResult{Success: true}, nil
}
func (okRemote) DenyInvestigationFix(ctx context.Context, approvalID, reason string) error {
	return nil
}
func (okRemote) ReapproveInvestigationFix(ctx context.Context, findingID string) (string, error) {
	return "ap-1", nil
}
func (okRemote) ApproveRemediationPlan(ctx context.Context, planID string) (string, error) {
	return "exec-1", nil
}
func (okRemote) ExecuteRemediationPlan(ctx context.Context, executionID string) (*findings.ExecutionResult, error) {
	return &findings.ExecutionResult{Success: true}, nil
}

func newTestRouter(t *testing.T) (*Router, *findings.Store) {
	t.Helper()
	store := findings.NewStore(nil)
	approvals := approval.NewStore("")
	resolver := findings.NewResolver(approvals, investigation.NewStore(nil), remediation.NewStore())
	dispatcher := findings.NewDispatcher(store, okRemote{})
	engine := findings.NewEngine(store, dispatcher, resolver, approvals)
	return NewRouter(engine, approvals, nil, nil, findings.Scope{}), store
}

func seedFinding(t *testing.T, store *findings.Store, id string) {
	t.Helper()
	store.Upsert(&findings.UnifiedFinding{
		ID:           id,
		Source:       findings.SourceAIPatrol,
		Severity:     findings.SeverityWarning,
		Category:     findings.CategoryPerformance,
		ResourceID:   "node1/qemu-101",
		ResourceName: "web-01",
		Title:        "High CPU usage",
		DetectedAt:   time.Now().Add(-time.Hour),
		LastSeenAt:   time.Now(),
	})
}

func doRequest(r *Router, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestListFindings(t *testing.T) {
	r, store := newTestRouter(t)
	seedFinding(t, store, "f1")
	seedFinding(t, store, "f2")

	rec := doRequest(r, http.MethodGet, "/api/findings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Count    int               `json:"count"`
		Findings []json.RawMessage `json:"findings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || len(resp.Findings) != 2 {
		t.Errorf("count = %d, findings = %d", resp.Count, len(resp.Findings))
	}
}

func TestListFindingsInvalidStatus(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doRequest(r, http.MethodGet, "/api/findings?status=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetFinding(t *testing.T) {
	r, store := newTestRouter(t)
	seedFinding(t, store, "f1")

	rec := doRequest(r, http.MethodGet, "/api/findings/f1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = doRequest(r, http.MethodGet, "/api/findings/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing finding status = %d, want 404", rec.Code)
	}
}

func TestAcknowledgeAction(t *testing.T) {
	r, store := newTestRouter(t)
	seedFinding(t, store, "f1")

	rec := doRequest(r, http.MethodPost, "/api/findings/f1/acknowledge", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	f, err := store.Get("f1")
	if err != nil {
		t.Fatal(err)
	}
	if f.AcknowledgedAt == nil {
		t.Error("acknowledgement not applied")
	}
}

func TestDismissInvalidReason(t *testing.T) {
	r, store := newTestRouter(t)
	seedFinding(t, store, "f1")

	rec := doRequest(r, http.MethodPost, "/api/findings/f1/dismiss", `{"reason":"because"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestActionOnUnknownFinding(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doRequest(r, http.MethodPost, "/api/findings/missing/acknowledge", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	r, store := newTestRouter(t)
	seedFinding(t, store, "f1")

	rec := doRequest(r, http.MethodGet, "/api/findings-summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var sum findings.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Total != 1 || sum.Active != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doRequest(r, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestApproveRecordsDecisionLocally(t *testing.T) {
	r, store := newTestRouter(t)
	seedFinding(t, store, "f1")
	req, err := r.approvals.Create(approval.ToolInvestigationFix, "systemctl restart nginx",
		"finding", "f1", "web-01", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	rec := doRequest(r, http.MethodPost, "/api/approvals/"+req.ID+"/approve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got, err := r.approvals.Get(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != approval.StatusApproved || got.DecidedBy == "" {
		t.Errorf("mirror request = %+v, want approved with decider", got)
	}
}

func TestDenyRecordsReasonLocally(t *testing.T) {
	r, store := newTestRouter(t)
	seedFinding(t, store, "f1")
	req, err := r.approvals.Create(approval.ToolInvestigationFix, "systemctl restart nginx",
		"finding", "f1", "web-01", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	rec := doRequest(r, http.MethodPost, "/api/approvals/"+req.ID+"/deny", `{"reason":"too risky"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got, err := r.approvals.Get(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != approval.StatusDenied || got.DenyReason != "too risky" {
		t.Errorf("mirror request = %+v, want denied with reason", got)
	}
}

func TestReapproveMirrorsFreshApproval(t *testing.T) {
	r, store := newTestRouter(t)
	seedFinding(t, store, "f1")
	lapsed, err := r.approvals.Create(approval.ToolInvestigationFix, "systemctl restart nginx",
		"finding", "f1", "web-01", "", time.Nanosecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)

	rec := doRequest(r, http.MethodPost, "/api/findings/f1/reapprove-fix", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var fresh *approval.Request
	for _, a := range r.approvals.All() {
		if a.ID != lapsed.ID && a.TargetID == "f1" {
			fresh = a
		}
	}
	if fresh == nil {
		t.Fatal("no fresh approval recorded")
	}
	if fresh.Status != approval.StatusApproved || !fresh.Consumed {
		t.Errorf("fresh approval = %+v, want approved and consumed", fresh)
	}
	if fresh.CommandHash != lapsed.CommandHash {
		t.Errorf("command hash %s does not match lapsed %s", fresh.CommandHash, lapsed.CommandHash)
	}
}

func TestMethodGuards(t *testing.T) {
	r, _ := newTestRouter(t)
	if rec := doRequest(r, http.MethodPost, "/api/findings", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST list status = %d", rec.Code)
	}
	if rec := doRequest(r, http.MethodDelete, "/api/findings/f1/acknowledge", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE action status = %d", rec.Code)
	}
}
