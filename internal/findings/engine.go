package findings

import (
	"context"
	"time"

	"github.com/rcourtman/pulse-findings/internal/approval"
)

// View is one finding prepared for display: the entity plus everything the
// presentation layer would otherwise have to derive.
type View struct {
	Finding      *UnifiedFinding `json:"finding"`
	Status       Status          `json:"status"`
	Acknowledged bool            `json:"acknowledged"`
	OutOfScope   bool            `json:"out_of_scope"`
	InFlight     bool            `json:"in_flight,omitempty"`
	Artifact     *Artifact       `json:"artifact,omitempty"`
}

// Summary is the derived badge state. Always recomputed from the current
// finding set, never maintained as counters.
type Summary struct {
	Total            int              `json:"total"`
	ActiveBySeverity map[Severity]int `json:"active_by_severity"`
	Active           int              `json:"active"`
	Snoozed          int              `json:"snoozed"`
	Dismissed        int              `json:"dismissed"`
	Resolved         int              `json:"resolved"`
	NeedsAttention   int              `json:"needs_attention"`
	PendingApprovals int              `json:"pending_approvals"`
}

// Engine bundles the store, dispatcher, and resolver behind the query
// surface the API serves.
type Engine struct {
	store      *Store
	dispatcher *Dispatcher
	resolver   *Resolver
	approvals  *approval.Store
}

// NewEngine wires the query facade.
func NewEngine(store *Store, dispatcher *Dispatcher, resolver *Resolver, approvals *approval.Store) *Engine {
	return &Engine{store: store, dispatcher: dispatcher, resolver: resolver, approvals: approvals}
}

// Store exposes the underlying finding store.
func (e *Engine) Store() *Store { return e.store }

// Dispatcher exposes the action dispatcher.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// attentionSet computes the needs-attention membership: active findings
// whose outcome urgency is in the top two bands.
func attentionSet(fs []*UnifiedFinding, now time.Time) map[string]bool {
	out := make(map[string]bool)
	for _, f := range fs {
		if effectiveUrgency(f, now) <= 1 {
			out[f.ID] = true
		}
	}
	return out
}

// approvalSet computes the has-pending-approval membership. Approvals whose
// target is no longer in the store are orphaned artifacts and do not count.
func (e *Engine) approvalSet() map[string]bool {
	out := make(map[string]bool)
	if e.approvals == nil {
		return out
	}
	for _, req := range e.approvals.Pending() {
		if req.ToolID != approval.ToolInvestigationFix || req.TargetID == "" {
			continue
		}
		if _, err := e.store.Get(req.TargetID); err != nil {
			continue
		}
		out[req.TargetID] = true
	}
	return out
}

// Query returns the ordered, annotated view set for one dashboard request.
func (e *Engine) Query(ctx context.Context, q Query, scope Scope) []*View {
	now := time.Now()
	all := e.store.All()

	if q.AttentionIDs == nil {
		q.AttentionIDs = attentionSet(all, now)
	}
	if q.ApprovalIDs == nil {
		q.ApprovalIDs = e.approvalSet()
	}

	ordered := Prioritize(all, q, now)
	inFlight := map[string]bool{}
	if e.dispatcher != nil {
		inFlight = e.dispatcher.InFlight()
	}

	views := make([]*View, 0, len(ordered))
	for _, f := range ordered {
		v := &View{
			Finding:      f,
			Status:       f.StatusAt(now),
			Acknowledged: f.AcknowledgedAt != nil && f.StatusAt(now) == StatusActive,
			OutOfScope:   scope.OutOfScope(f),
			InFlight:     inFlight[f.ID],
		}
		if e.resolver != nil {
			v.Artifact = e.resolver.Resolve(ctx, f)
		}
		views = append(views, v)
	}
	return views
}

// Snapshot bundles the full ordered view set with the badge summary. Sent
// to websocket clients on connect so the dashboard can render without a
// follow-up fetch.
type Snapshot struct {
	Findings []*View `json:"findings"`
	Summary  Summary `json:"summary"`
}

// Snapshot builds the connect-time payload for the given scope.
func (e *Engine) Snapshot(ctx context.Context, scope Scope) Snapshot {
	return Snapshot{
		Findings: e.Query(ctx, Query{SortBy: SortBySeverity}, scope),
		Summary:  e.Summarize(),
	}
}

// Summarize recomputes the badge counts from the current finding set.
func (e *Engine) Summarize() Summary {
	now := time.Now()
	all := e.store.All()
	sum := Summary{
		Total:            len(all),
		ActiveBySeverity: make(map[Severity]int),
	}
	for _, f := range all {
		switch f.StatusAt(now) {
		case StatusActive:
			sum.Active++
			sum.ActiveBySeverity[f.Severity]++
		case StatusSnoozed:
			sum.Snoozed++
		case StatusDismissed:
			sum.Dismissed++
		case StatusResolved:
			sum.Resolved++
		}
	}
	sum.NeedsAttention = len(attentionSet(all, now))
	sum.PendingApprovals = len(e.approvalSet())

	if metrics != nil {
		for _, sev := range []Severity{SeverityCritical, SeverityWarning, SeverityWatch, SeverityInfo} {
			metrics.ActiveFindings.WithLabelValues(string(sev)).Set(float64(sum.ActiveBySeverity[sev]))
		}
	}
	return sum
}

// History returns the last n lifecycle entries for a finding, newest first.
func (e *Engine) History(id string, n int) ([]LifecycleEvent, error) {
	f, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	events := f.Lifecycle
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	out := make([]LifecycleEvent, len(events))
	for i, ev := range events {
		out[len(events)-1-i] = ev
	}
	return out, nil
}
