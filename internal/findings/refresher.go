package findings

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rcourtman/pulse-findings/internal/approval"
	"github.com/rcourtman/pulse-findings/internal/investigation"
	"github.com/rcourtman/pulse-findings/internal/remediation"
)

// Feed delivers raw backend state for one refresh cycle. Any method may
// return an error; the refresher degrades per-feed instead of failing the
// cycle.
type Feed interface {
	LoadAlerts(ctx context.Context) ([]RawAlert, error)
	LoadAIFindings(ctx context.Context) ([]RawAIFinding, error)
	LoadPlans(ctx context.Context) ([]*remediation.Plan, error)
	LoadApprovals(ctx context.Context) ([]*approval.Request, error)
	LoadSessions(ctx context.Context) ([]*investigation.Session, error)
}

// Refresher periodically pulls the backend feeds and reconciles the local
// stores. Findings with in-flight actions keep their local copy until the
// action resolves; findings absent from a healthy feed are implicitly
// resolved.
type Refresher struct {
	feed       Feed
	normalizer *Normalizer
	store      *Store
	dispatcher *Dispatcher
	plans      *remediation.Store
	approvals  *approval.Store
	sessions   *investigation.Store

	interval time.Duration
	mu       sync.Mutex
	trigger  chan struct{}
}

// NewRefresher wires a refresher. plans, approvals, and sessions may be nil
// when no mirror is kept for that feed.
func NewRefresher(feed Feed, normalizer *Normalizer, store *Store, dispatcher *Dispatcher,
	plans *remediation.Store, approvals *approval.Store, sessions *investigation.Store,
	interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Refresher{
		feed:       feed,
		normalizer: normalizer,
		store:      store,
		dispatcher: dispatcher,
		plans:      plans,
		approvals:  approvals,
		sessions:   sessions,
		interval:   interval,
		trigger:    make(chan struct{}, 1),
	}
}

// SetInterval updates the refresh cadence; takes effect on the next tick.
func (r *Refresher) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.interval = d
	r.mu.Unlock()
}

func (r *Refresher) currentInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Trigger requests an immediate refresh. Coalesces if one is already queued.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes on the configured cadence until ctx is done. An immediate
// first refresh fills the stores at startup.
func (r *Refresher) Run(ctx context.Context) {
	r.Refresh(ctx)
	for {
		timer := time.NewTimer(r.currentInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.trigger:
			timer.Stop()
		case <-timer.C:
		}
		r.Refresh(ctx)
	}
}

// Refresh runs one reconciliation cycle. The feeds are fetched in parallel;
// a failed feed keeps its previous local mirror for this cycle. Implicit
// resolution only happens when both finding feeds answered, otherwise a
// transport blip would mass-resolve everything.
func (r *Refresher) Refresh(ctx context.Context) {
	start := time.Now()

	var (
		alerts     []RawAlert
		aiRecords  []RawAIFinding
		plans      []*remediation.Plan
		approvals  []*approval.Request
		sessions   []*investigation.Session
		alertsOK   bool
		aiOK       bool
		plansOK    bool
		approvalOK bool
		sessionsOK bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if alerts, err = r.feed.LoadAlerts(gctx); err != nil {
			log.Warn().Err(err).Msg("Alert feed unavailable")
			return nil
		}
		alertsOK = true
		return nil
	})
	g.Go(func() error {
		var err error
		if aiRecords, err = r.feed.LoadAIFindings(gctx); err != nil {
			log.Warn().Err(err).Msg("AI finding feed unavailable")
			return nil
		}
		aiOK = true
		return nil
	})
	g.Go(func() error {
		var err error
		if plans, err = r.feed.LoadPlans(gctx); err != nil {
			log.Warn().Err(err).Msg("Remediation plan feed unavailable")
			return nil
		}
		plansOK = true
		return nil
	})
	g.Go(func() error {
		var err error
		if approvals, err = r.feed.LoadApprovals(gctx); err != nil {
			log.Warn().Err(err).Msg("Approval feed unavailable")
			return nil
		}
		approvalOK = true
		return nil
	})
	g.Go(func() error {
		var err error
		if sessions, err = r.feed.LoadSessions(gctx); err != nil {
			log.Warn().Err(err).Msg("Investigation session feed unavailable")
			return nil
		}
		sessionsOK = true
		return nil
	})
	_ = g.Wait()

	if alertsOK && aiOK {
		unified := r.normalizer.NormalizeAlerts(alerts)
		unified = append(unified, r.normalizer.NormalizeAIFindings(aiRecords)...)
		var skip map[string]bool
		if r.dispatcher != nil {
			skip = r.dispatcher.InFlight()
		}
		r.store.ReconcileAuthoritative(unified, skip)
	}
	if plansOK && r.plans != nil {
		r.plans.ReplaceAll(plans)
	}
	if approvalOK && r.approvals != nil {
		r.approvals.ReplaceAll(approvals)
	}
	if sessionsOK && r.sessions != nil {
		r.sessions.ReplaceAll(sessions)
	}

	result := "ok"
	if !alertsOK || !aiOK {
		result = "partial"
	}
	recordRefresh(result, time.Since(start))
	log.Debug().
		Str("result", result).
		Int("alerts", len(alerts)).
		Int("aiFindings", len(aiRecords)).
		Int("plans", len(plans)).
		Int("approvals", len(approvals)).
		Dur("elapsed", time.Since(start)).
		Msg("Refresh cycle complete")
}
