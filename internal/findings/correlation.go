package findings

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/pulse-findings/internal/approval"
	"github.com/rcourtman/pulse-findings/internal/investigation"
	"github.com/rcourtman/pulse-findings/internal/remediation"
)

// ArtifactKind names the remediation affordance attached to a finding.
type ArtifactKind string

const (
	// ArtifactApproval is a live pending approval, executable right now.
	ArtifactApproval ArtifactKind = "approval"
	// ArtifactProposedFix is a fix whose approval window lapsed and can be
	// re-approved.
	ArtifactProposedFix ArtifactKind = "proposed_fix"
	// ArtifactPlan is a legacy remediation plan.
	ArtifactPlan ArtifactKind = "plan"
)

// Artifact is the single remediation affordance shown for a finding. At most
// one of the payload fields is set, matching Kind.
type Artifact struct {
	Kind      ArtifactKind       `json:"kind"`
	Approval  *approval.Request  `json:"approval,omitempty"`
	Fix       *investigation.Fix `json:"fix,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	Plan      *remediation.Plan  `json:"plan,omitempty"`
}

// Resolver correlates findings to remediation artifacts. Precedence per
// finding: live pending approval, then proposed fix from an expired
// approval, then the latest legacy plan. One artifact at most.
type Resolver struct {
	approvals *approval.Store
	sessions  *investigation.Store
	plans     *remediation.Store
}

// NewResolver wires the three artifact sources.
func NewResolver(approvals *approval.Store, sessions *investigation.Store, plans *remediation.Store) *Resolver {
	return &Resolver{approvals: approvals, sessions: sessions, plans: plans}
}

// Resolve returns the finding's current remediation artifact, or nil.
func (r *Resolver) Resolve(ctx context.Context, f *UnifiedFinding) *Artifact {
	if f == nil {
		return nil
	}
	now := time.Now()

	if r.approvals != nil {
		if req := r.approvals.PendingForTarget(approval.ToolInvestigationFix, f.ID); req != nil {
			return &Artifact{Kind: ArtifactApproval, Approval: req}
		}
	}

	if fix, sessionID := r.expiredApprovalFix(ctx, f); fix != nil {
		return &Artifact{Kind: ArtifactProposedFix, Fix: fix, SessionID: sessionID}
	}

	if r.plans != nil {
		if plan := r.plans.LatestForFinding(f.ID, now); plan != nil {
			return &Artifact{Kind: ArtifactPlan, Plan: plan}
		}
	}
	return nil
}

// expiredApprovalFix recovers the proposed fix for a finding whose queued
// fix lost its approval window. The session is fetched once and cached; a
// fetch failure just means no affordance this cycle.
func (r *Resolver) expiredApprovalFix(ctx context.Context, f *UnifiedFinding) (*investigation.Fix, string) {
	if r.sessions == nil {
		return nil, ""
	}
	if investigation.Outcome(f.InvestigationOutcome) != investigation.OutcomeFixQueued {
		return nil, ""
	}
	// Outcome is stale while a new investigation is underway.
	if investigation.Status(f.InvestigationStatus).InProgress() {
		return nil, ""
	}

	session := r.sessions.GetLatestByFinding(f.ID)
	if session == nil && f.InvestigationSessionID != "" {
		var err error
		session, err = r.sessions.Get(ctx, f.InvestigationSessionID)
		if err != nil {
			log.Debug().Err(err).
				Str("findingID", f.ID).
				Str("sessionID", f.InvestigationSessionID).
				Msg("Could not recover proposed fix for expired approval")
			return nil, ""
		}
	}
	if session == nil || !session.HasProposedFix() {
		return nil, ""
	}
	return session.ProposedFix, session.ID
}

// ResolveAll maps finding id to artifact for a batch. Artifacts referencing
// unknown findings never surface because resolution starts from findings.
func (r *Resolver) ResolveAll(ctx context.Context, fs []*UnifiedFinding) map[string]*Artifact {
	out := make(map[string]*Artifact, len(fs))
	for _, f := range fs {
		if a := r.Resolve(ctx, f); a != nil {
			out[f.ID] = a
		}
	}
	return out
}
