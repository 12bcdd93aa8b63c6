package findings

import (
	"testing"
	"time"
)

func TestConvertAlert(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{})
	start := time.Now().Add(-10 * time.Minute)
	a := RawAlert{
		ID:           "al-42",
		Type:         "cpu",
		Level:        "critical",
		ResourceID:   "node1/qemu-101",
		ResourceName: "web-01",
		Node:         "node1",
		Value:        97.5,
		Threshold:    90,
		StartTime:    start,
	}
	f, err := n.ConvertAlert(&a)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if f.ID != "alert-al-42" {
		t.Errorf("id = %s", f.ID)
	}
	if f.Source != SourceThreshold || !f.IsThreshold || f.AlertID != "al-42" {
		t.Errorf("threshold tagging wrong: %+v", f)
	}
	if f.Severity != SeverityCritical {
		t.Errorf("severity = %s", f.Severity)
	}
	if f.Category != CategoryPerformance {
		t.Errorf("category = %s", f.Category)
	}
	if !f.DetectedAt.Equal(start) {
		t.Errorf("detectedAt = %s", f.DetectedAt)
	}
	if countEvents(f, EventCreated) != 1 {
		t.Error("missing created event")
	}
}

func TestConvertAlertWarningDefault(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{})
	f, err := n.ConvertAlert(&RawAlert{
		ID: "al-1", Type: "mysteryType", Level: "warning",
		ResourceID: "node1", StartTime: time.Now(),
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if f.Severity != SeverityWarning {
		t.Errorf("severity = %s", f.Severity)
	}
	if f.Category != CategoryGeneral {
		t.Errorf("unmapped type category = %s, want general", f.Category)
	}
}

func TestNormalizeAlertsSkipsMalformed(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{})
	now := time.Now()
	batch := []RawAlert{
		{ID: "", Type: "cpu", ResourceID: "node1", StartTime: now},      // no id
		{ID: "al-1", Type: "cpu", ResourceID: "", StartTime: now},       // no resource
		{ID: "al-2", Type: "cpu", ResourceID: "node1"},                  // no start time
		{ID: "al-3", Type: "cpu", ResourceID: "node1", StartTime: now},  // good
	}
	got := n.NormalizeAlerts(batch)
	if len(got) != 1 {
		t.Fatalf("got %d findings, want 1", len(got))
	}
	if got[0].AlertID != "al-3" {
		t.Errorf("kept wrong record: %s", got[0].AlertID)
	}
}

func TestNormalizeAIFindings(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{})
	now := time.Now()
	batch := []RawAIFinding{
		{ID: "p-1", Source: "ai-patrol", Severity: "critical", ResourceID: "node1/qemu-101",
			ResourceType: "vm", Title: "Memory leak suspected", DetectedAt: now},
		{ID: "p-2", Source: "anomaly", Severity: "watch", ResourceID: "node2",
			Title: "Disk IO baseline shift", DetectedAt: now},
		{ID: "", Source: "ai-patrol", Severity: "info", ResourceID: "node1",
			Title: "x", DetectedAt: now}, // no id
		{ID: "p-3", Source: "ai-patrol", Severity: "info", ResourceID: "node1",
			Title: "", DetectedAt: now}, // no title
		{ID: "p-4", Source: "ai-patrol", Severity: "", ResourceID: "node1",
			Title: "CPU spike", DetectedAt: now}, // no severity
	}
	got := n.NormalizeAIFindings(batch)
	if len(got) != 2 {
		t.Fatalf("got %d findings, want 2", len(got))
	}
	if got[0].Source != SourceAIPatrol || got[1].Source != SourceAnomaly {
		t.Errorf("sources = %s, %s", got[0].Source, got[1].Source)
	}
	if got[1].ResourceType == "" {
		t.Error("resource type not derived")
	}
	if got[0].IsThreshold || got[0].AlertID != "" {
		t.Error("AI finding carries threshold linkage")
	}
}

func TestDeriveResourceType(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"node1/qemu-101", "vm"},
		{"node1/lxc-200", "container"},
		{"storage-local", "storage"},
		{"pve1", "node"},
		{"docker:web", "dockerContainer"},
	}
	for _, tt := range tests {
		if got := deriveResourceType(tt.id); got != tt.want {
			t.Errorf("deriveResourceType(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
