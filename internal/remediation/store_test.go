package remediation

import (
	"testing"
	"time"
)

func validPlan(id, findingID string, createdAt time.Time) *Plan {
	return &Plan{
		ID:        id,
		FindingID: findingID,
		Title:     "Prune old backups",
		Category:  CategoryGuided,
		Steps:     []Step{{Order: 1, Description: "list backups older than 30 days"}},
		CreatedAt: createdAt,
	}
}

func TestAddFillsDefaults(t *testing.T) {
	s := NewStore()
	p := &Plan{
		FindingID: "f1",
		Title:     "Prune old backups",
		Category:  CategoryGuided,
		Steps:     []Step{{Order: 1, Description: "prune"}},
	}
	if err := s.Add(p); err != nil {
		t.Fatalf("add: %v", err)
	}
	if p.ID == "" {
		t.Error("id not assigned")
	}
	if p.ExpiresAt.IsZero() || !p.ExpiresAt.Equal(p.CreatedAt.Add(PlanExpiry)) {
		t.Errorf("expiry = %s", p.ExpiresAt)
	}
	if p.RiskLevel != RiskLow {
		t.Errorf("risk = %s", p.RiskLevel)
	}
}

func TestAddRejectsInvalid(t *testing.T) {
	s := NewStore()
	if err := s.Add(&Plan{Title: "no finding"}); err == nil {
		t.Error("plan without finding id accepted")
	}
	if err := s.Add(&Plan{FindingID: "f1"}); err == nil {
		t.Error("plan without title accepted")
	}
	if err := s.Add(&Plan{FindingID: "f1", Title: "x", Category: CategoryGuided}); err == nil {
		t.Error("guided plan without steps accepted")
	}
	// Informational plans carry no steps.
	if err := s.Add(&Plan{FindingID: "f1", Title: "x", Category: CategoryInformational}); err != nil {
		t.Errorf("informational plan rejected: %v", err)
	}
}

func TestLatestForFinding(t *testing.T) {
	s := NewStore()
	now := time.Now()
	for _, p := range []*Plan{
		validPlan("plan-a", "f1", now.Add(-3*time.Hour)),
		validPlan("plan-b", "f1", now.Add(-time.Hour)),
		validPlan("plan-x", "f2", now),
	} {
		if err := s.Add(p); err != nil {
			t.Fatalf("add %s: %v", p.ID, err)
		}
	}

	got := s.LatestForFinding("f1", now)
	if got == nil || got.ID != "plan-b" {
		t.Fatalf("latest = %+v, want plan-b", got)
	}
	if s.LatestForFinding("missing", now) != nil {
		t.Error("unknown finding returned a plan")
	}
}

func TestLatestForFindingIDTiebreak(t *testing.T) {
	s := NewStore()
	created := time.Now().Add(-time.Hour)
	if err := s.Add(validPlan("plan-b", "f1", created)); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(validPlan("plan-a", "f1", created)); err != nil {
		t.Fatal(err)
	}
	got := s.LatestForFinding("f1", time.Now())
	if got == nil || got.ID != "plan-b" {
		t.Fatalf("latest = %+v, want plan-b (greater id wins ties)", got)
	}
}

func TestLatestForFindingSkipsExpired(t *testing.T) {
	s := NewStore()
	now := time.Now()

	fresh := validPlan("plan-fresh", "f1", now.Add(-2*time.Hour))
	stale := validPlan("plan-stale", "f1", now.Add(-time.Hour))
	stale.ExpiresAt = now.Add(-time.Minute)
	for _, p := range []*Plan{fresh, stale} {
		if err := s.Add(p); err != nil {
			t.Fatal(err)
		}
	}

	got := s.LatestForFinding("f1", now)
	if got == nil || got.ID != "plan-fresh" {
		t.Fatalf("latest = %+v, want plan-fresh (newer plan expired)", got)
	}
}

func TestReplaceAllSkipsInvalid(t *testing.T) {
	s := NewStore()
	if err := s.Add(validPlan("plan-old", "f1", time.Now())); err != nil {
		t.Fatal(err)
	}

	s.ReplaceAll([]*Plan{
		validPlan("plan-new", "f2", time.Now()),
		{ID: "plan-bad", Title: "missing finding"},
	})

	if s.Count() != 1 {
		t.Fatalf("count = %d, want 1", s.Count())
	}
	if s.Get("plan-old") != nil {
		t.Error("replaced plan still present")
	}
	if s.Get("plan-new") == nil {
		t.Error("new plan missing")
	}
}

func TestAssessRiskFromSteps(t *testing.T) {
	tests := []struct {
		command string
		want    RiskLevel
	}{
		{"rm -rf /var/lib/vz/dump/old", RiskHigh},
		{"wipefs -a /dev/sdb", RiskHigh},
		{"systemctl restart pvedaemon", RiskMedium},
		{"df -h", RiskLow},
	}
	for _, tt := range tests {
		p := validPlan("", "f1", time.Now())
		p.Steps[0].Command = tt.command
		if got := AssessRisk(p); got != tt.want {
			t.Errorf("AssessRisk(%q) = %s, want %s", tt.command, got, tt.want)
		}
	}
}
