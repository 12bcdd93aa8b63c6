package findings

import (
	"sort"
	"time"

	"github.com/rcourtman/pulse-findings/internal/investigation"
)

// SortBy selects the secondary ordering key.
type SortBy string

const (
	SortBySeverity SortBy = "severity"
	SortByTime     SortBy = "time"
)

// StatusBucket is the coarse filter group offered by the dashboard.
type StatusBucket string

const (
	// BucketAll applies no status filter.
	BucketAll StatusBucket = ""
	// BucketActive keeps active findings only.
	BucketActive StatusBucket = "active"
	// BucketResolved keeps resolved, dismissed, and snoozed findings.
	BucketResolved StatusBucket = "resolved"
	// BucketAttention keeps members of the needs-attention set.
	BucketAttention StatusBucket = "attention"
	// BucketApprovals keeps members of the pending-approval set.
	BucketApprovals StatusBucket = "approvals"
)

// Query selects and orders a finding set. The attention and approval sets
// come from the server; the engine only tests membership.
type Query struct {
	SortBy     SortBy
	Bucket     StatusBucket
	ResourceID string
	IDs        []string // explicit allow-list
	MaxItems   int      // 0 = unlimited
	PatrolOnly bool

	AttentionIDs map[string]bool
	ApprovalIDs  map[string]bool
}

// Prioritize filters and orders findings for display. Pure: inputs are not
// mutated, and identical inputs yield an identical order. Filtering runs
// before sorting; MaxItems truncates last.
func Prioritize(fs []*UnifiedFinding, q Query, now time.Time) []*UnifiedFinding {
	out := make([]*UnifiedFinding, 0, len(fs))
	var allow map[string]bool
	if q.IDs != nil {
		allow = make(map[string]bool, len(q.IDs))
		for _, id := range q.IDs {
			allow[id] = true
		}
	}
	for _, f := range fs {
		if f == nil {
			continue
		}
		if q.ResourceID != "" && f.ResourceID != q.ResourceID {
			continue
		}
		if q.PatrolOnly && !f.IsPatrol() {
			continue
		}
		if allow != nil && !allow[f.ID] {
			continue
		}
		if !inBucket(f, q, now) {
			continue
		}
		out = append(out, f)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return Less(out[i], out[j], q.SortBy, now)
	})

	if q.MaxItems > 0 && len(out) > q.MaxItems {
		out = out[:q.MaxItems]
	}
	return out
}

func inBucket(f *UnifiedFinding, q Query, now time.Time) bool {
	switch q.Bucket {
	case BucketAll:
		return true
	case BucketActive:
		return f.StatusAt(now) == StatusActive
	case BucketResolved:
		switch f.StatusAt(now) {
		case StatusResolved, StatusDismissed, StatusSnoozed:
			return true
		}
		return false
	case BucketAttention:
		return q.AttentionIDs[f.ID]
	case BucketApprovals:
		return q.ApprovalIDs[f.ID]
	default:
		return true
	}
}

// Less is the display comparator. Keys, most significant first: outcome
// urgency, then (severity sort only) severity rank and acknowledged-last,
// then DetectedAt newest first.
func Less(a, b *UnifiedFinding, sortBy SortBy, now time.Time) bool {
	ua, ub := effectiveUrgency(a, now), effectiveUrgency(b, now)
	if ua != ub {
		return ua < ub
	}
	if sortBy == SortBySeverity {
		ra, rb := SeverityRank(a.Severity), SeverityRank(b.Severity)
		if ra != rb {
			return ra < rb
		}
		aa := a.AcknowledgedAt != nil && a.StatusAt(now) == StatusActive
		ab := b.AcknowledgedAt != nil && b.StatusAt(now) == StatusActive
		if aa != ab {
			return !aa
		}
	}
	return a.DetectedAt.After(b.DetectedAt)
}

// effectiveUrgency folds the staleness rules into the urgency table: only
// active findings whose investigation is not currently underway carry a
// meaningful outcome. Everything else lands in the bottom band.
func effectiveUrgency(f *UnifiedFinding, now time.Time) int {
	if f.StatusAt(now) != StatusActive {
		return 3
	}
	if investigation.Status(f.InvestigationStatus).InProgress() {
		return 3
	}
	return investigation.UrgencyRank(investigation.Outcome(f.InvestigationOutcome))
}
