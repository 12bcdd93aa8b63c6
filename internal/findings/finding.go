// Package findings implements the findings lifecycle and prioritization
// engine: a unified model over threshold alerts and AI patrol results, with
// derived status, ordered views, correlation to remediation artifacts, and
// optimistic action dispatch against the backend.
package findings

import (
	"time"
)

// Source identifies where a finding originated.
type Source string

const (
	// SourceThreshold indicates a finding created from a threshold alert
	SourceThreshold Source = "threshold"
	// SourceAIPatrol indicates a finding created by AI patrol analysis
	SourceAIPatrol Source = "ai-patrol"
	// SourceAIChat indicates a finding from interactive AI chat
	SourceAIChat Source = "ai-chat"
	// SourceAnomaly indicates a finding from baseline anomaly detection
	SourceAnomaly Source = "anomaly"
	// SourceCorrelation indicates a finding from root-cause correlation
	SourceCorrelation Source = "correlation"
	// SourceForecast indicates a proactive finding from trend forecasting
	SourceForecast Source = "forecast"
)

// knownSources is the closed set accepted by the normalizer. Records with an
// unrecognized source are kept but rendered without source-specific behavior.
var knownSources = map[Source]bool{
	SourceThreshold:   true,
	SourceAIPatrol:    true,
	SourceAIChat:      true,
	SourceAnomaly:     true,
	SourceCorrelation: true,
	SourceForecast:    true,
}

// Severity maps different severity systems to a common scale.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWatch    Severity = "watch"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SeverityRank orders severities for display: critical first, unknown last.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityWatch:
		return 2
	case SeverityInfo:
		return 3
	default:
		return 4
	}
}

// Category groups findings by type.
type Category string

const (
	CategoryPerformance   Category = "performance"
	CategoryCapacity      Category = "capacity"
	CategoryReliability   Category = "reliability"
	CategoryBackup        Category = "backup"
	CategorySecurity      Category = "security"
	CategoryConnectivity  Category = "connectivity"
	CategoryConfiguration Category = "configuration"
	CategoryGeneral       Category = "general"
)

// Status is the derived lifecycle state of a finding. It is never stored:
// it is computed from the timestamp fields, so the precedence rules cannot
// drift between writers.
type Status string

const (
	StatusActive    Status = "active"
	StatusResolved  Status = "resolved"
	StatusDismissed Status = "dismissed"
	StatusSnoozed   Status = "snoozed"
)

// DismissedReason is the operator's stated reason for dismissing a finding.
type DismissedReason string

const (
	ReasonNotAnIssue       DismissedReason = "not_an_issue"
	ReasonExpectedBehavior DismissedReason = "expected_behavior"
	ReasonWillFixLater     DismissedReason = "will_fix_later"
)

// ValidDismissedReasons is the closed set accepted by Dismiss.
var ValidDismissedReasons = map[DismissedReason]bool{
	ReasonNotAnIssue:       true,
	ReasonExpectedBehavior: true,
	ReasonWillFixLater:     true,
}

// Lifecycle event types appended to a finding's audit trail.
const (
	EventCreated      = "created"
	EventAcknowledged = "acknowledged"
	EventUnacked      = "unacknowledged"
	EventSnoozed      = "snoozed"
	EventUnsnoozed    = "unsnoozed"
	EventDismissed    = "dismissed"
	EventResolved     = "resolved"
	EventAutoResolved = "auto_resolved"
	EventRegressed    = "regressed"
	EventNoteUpdated  = "note_updated"
	EventFixQueued    = "fix_queued"
	EventFixExecuted  = "fix_executed"
)

// LifecycleEvent is one append-only entry in a finding's history.
type LifecycleEvent struct {
	At       time.Time         `json:"at"`
	Type     string            `json:"type"`
	Message  string            `json:"message,omitempty"`
	From     string            `json:"from,omitempty"`
	To       string            `json:"to,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UnifiedFinding represents a finding that can originate from threshold
// alerts, AI analysis, or other detection methods.
type UnifiedFinding struct {
	ID             string   `json:"id"`
	Source         Source   `json:"source"`
	Severity       Severity `json:"severity"`
	Category       Category `json:"category"`
	ResourceID     string   `json:"resource_id"`
	ResourceName   string   `json:"resource_name"`
	ResourceType   string   `json:"resource_type"`
	Node           string   `json:"node,omitempty"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation,omitempty"`
	Evidence       string   `json:"evidence,omitempty"`

	// Threshold-specific fields (when Source == "threshold")
	AlertID     string  `json:"alert_id,omitempty"`
	AlertType   string  `json:"alert_type,omitempty"` // cpu, memory, disk, etc.
	Value       float64 `json:"value,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
	IsThreshold bool    `json:"is_threshold"`

	// AI enhancement fields
	AIContext     string     `json:"ai_context,omitempty"`
	RootCauseID   string     `json:"root_cause_id,omitempty"`
	CorrelatedIDs []string   `json:"correlated_ids,omitempty"`
	RemediationID string     `json:"remediation_id,omitempty"`
	AIConfidence  float64    `json:"ai_confidence,omitempty"`
	EnhancedByAI  bool       `json:"enhanced_by_ai"`
	AIEnhancedAt  *time.Time `json:"ai_enhanced_at,omitempty"`

	// Investigation fields (autonomous patrol investigation)
	InvestigationSessionID string           `json:"investigation_session_id,omitempty"`
	InvestigationStatus    string           `json:"investigation_status,omitempty"`
	InvestigationOutcome   string           `json:"investigation_outcome,omitempty"`
	LastInvestigatedAt     *time.Time       `json:"last_investigated_at,omitempty"`
	InvestigationAttempts  int              `json:"investigation_attempts,omitempty"`
	Lifecycle              []LifecycleEvent `json:"lifecycle,omitempty"`
	RegressionCount        int              `json:"regression_count,omitempty"`
	LastRegressionAt       *time.Time       `json:"last_regression_at,omitempty"`

	// Timestamps
	DetectedAt time.Time  `json:"detected_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// User feedback
	AcknowledgedAt  *time.Time      `json:"acknowledged_at,omitempty"`
	SnoozedUntil    *time.Time      `json:"snoozed_until,omitempty"`
	DismissedReason DismissedReason `json:"dismissed_reason,omitempty"`
	UserNote        string          `json:"user_note,omitempty"`
	Suppressed      bool            `json:"suppressed"`
	TimesRaised     int             `json:"times_raised"`
}

// StatusAt computes the finding's lifecycle status at the given instant.
// Precedence: resolved > dismissed > snoozed > active. A snooze whose
// deadline has passed reads as active; nothing rewrites the record.
func (f *UnifiedFinding) StatusAt(now time.Time) Status {
	if f.ResolvedAt != nil {
		return StatusResolved
	}
	if f.DismissedReason != "" {
		return StatusDismissed
	}
	if f.SnoozedUntil != nil && now.Before(*f.SnoozedUntil) {
		return StatusSnoozed
	}
	return StatusActive
}

// Status computes the finding's lifecycle status as of now.
func (f *UnifiedFinding) Status() Status {
	return f.StatusAt(time.Now())
}

// IsActive reports whether the finding is currently in the active status.
func (f *UnifiedFinding) IsActive() bool {
	return f.Status() == StatusActive
}

// IsAcknowledged reports whether the finding is active and acknowledged.
// Acknowledgement is a flag on active findings, not a status of its own;
// it carries no meaning in any other status.
func (f *UnifiedFinding) IsAcknowledged() bool {
	return f.AcknowledgedAt != nil && f.IsActive()
}

// IsSnoozed reports whether the finding is currently snoozed.
func (f *UnifiedFinding) IsSnoozed() bool {
	return f.Status() == StatusSnoozed
}

// IsPatrol reports whether the finding came from patrol-style analysis
// rather than a threshold alert. Patrol-only views use this cut.
func (f *UnifiedFinding) IsPatrol() bool {
	if f.Source == SourceThreshold || f.IsThreshold || f.AlertID != "" {
		return false
	}
	return true
}

// appendEvent records a lifecycle transition. The trail is append-only;
// callers never remove or rewrite prior entries.
func (f *UnifiedFinding) appendEvent(eventType string, at time.Time, from, to Status, message string) {
	f.Lifecycle = append(f.Lifecycle, LifecycleEvent{
		At:      at,
		Type:    eventType,
		Message: message,
		From:    string(from),
		To:      string(to),
	})
}

// Clone returns a deep copy safe to hand outside the store.
func (f *UnifiedFinding) Clone() *UnifiedFinding {
	cp := *f
	if f.CorrelatedIDs != nil {
		cp.CorrelatedIDs = append([]string(nil), f.CorrelatedIDs...)
	}
	if f.Lifecycle != nil {
		cp.Lifecycle = make([]LifecycleEvent, len(f.Lifecycle))
		for i, ev := range f.Lifecycle {
			cp.Lifecycle[i] = ev
			if ev.Metadata != nil {
				md := make(map[string]string, len(ev.Metadata))
				for k, v := range ev.Metadata {
					md[k] = v
				}
				cp.Lifecycle[i].Metadata = md
			}
		}
	}
	return &cp
}
