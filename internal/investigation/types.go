// Package investigation holds the session and proposed-fix model produced by
// autonomous patrol investigations. The engine consumes sessions read-only:
// it never runs investigations, it correlates their artifacts to findings.
package investigation

import "time"

// Status represents the lifecycle of an investigation session.
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusNeedsAttention Status = "needs_attention"
)

// InProgress reports whether the session has not reached a terminal state.
// Outcomes from in-progress sessions are stale and must not drive display.
func (s Status) InProgress() bool {
	return s == StatusPending || s == StatusRunning
}

// Outcome represents the result of a completed investigation.
type Outcome string

const (
	OutcomeResolved         Outcome = "resolved"
	OutcomeFixQueued        Outcome = "fix_queued"
	OutcomeFixExecuted      Outcome = "fix_executed"
	OutcomeFixFailed        Outcome = "fix_failed"
	OutcomeFixVerified      Outcome = "fix_verified"
	OutcomeFixVerifyFailed  Outcome = "fix_verification_failed"
	OutcomeFixVerifyUnknown Outcome = "fix_verification_unknown"
	OutcomeTimedOut         Outcome = "timed_out"
	OutcomeNeedsAttention   Outcome = "needs_attention"
	OutcomeCannotFix        Outcome = "cannot_fix"
)

// UrgencyRank orders outcomes for prioritization. Lower is more urgent.
// Failures outrank uncertainty, uncertainty outranks queued work, and
// everything else ties at the bottom. Unknown outcomes land in the bottom
// band rather than guessing.
func UrgencyRank(o Outcome) int {
	switch o {
	case OutcomeFixVerifyFailed, OutcomeFixFailed:
		return 0
	case OutcomeFixVerifyUnknown, OutcomeTimedOut, OutcomeNeedsAttention, OutcomeCannotFix:
		return 1
	case OutcomeFixQueued:
		return 2
	default:
		return 3
	}
}

// Fix is a proposed remediation produced by an investigation.
type Fix struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Commands    []string `json:"commands"`
	RiskLevel   string   `json:"risk_level"` // low, medium, high
	Destructive bool     `json:"destructive"`
	TargetHost  string   `json:"target_host,omitempty"`
	Rationale   string   `json:"rationale,omitempty"`
}

// Session tracks a single investigation of a finding.
type Session struct {
	ID          string     `json:"id"`
	FindingID   string     `json:"finding_id"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	TurnCount   int        `json:"turn_count"`
	Outcome     Outcome    `json:"outcome,omitempty"`
	ProposedFix *Fix       `json:"proposed_fix,omitempty"`
	ApprovalID  string     `json:"approval_id,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// HasProposedFix reports whether the session carries an executable fix.
func (s *Session) HasProposedFix() bool {
	return s.ProposedFix != nil && len(s.ProposedFix.Commands) > 0
}
