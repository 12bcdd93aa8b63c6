package findings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/pulse-findings/internal/investigation"
)

// Remote is the backend surface the dispatcher writes through. Every call
// may fail; the dispatcher commits nothing locally until the call succeeds.
type Remote interface {
	AcknowledgeFinding(ctx context.Context, id string) error
	DismissFinding(ctx context.Context, id string, reason DismissedReason, note string) error
	SnoozeFinding(ctx context.Context, id string, hours float64) error
	SetFindingNote(ctx context.Context, id, text string) error
	ApproveInvestigationFix(ctx context.Context, approvalID string) (*ExecutionResult, error)
	DenyInvestigationFix(ctx context.Context, approvalID, reason string) error
	ReapproveInvestigationFix(ctx context.Context, findingID string) (string, error)
	ApproveRemediationPlan(ctx context.Context, planID string) (string, error)
	ExecuteRemediationPlan(ctx context.Context, executionID string) (*ExecutionResult, error)
}

// ExecutionResult reports what happened when an approved fix ran.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NoticeLevel classifies user-visible notices.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
	NoticeInfo    NoticeLevel = "info"
)

// Notice is a transient user-visible message produced by an action.
type Notice struct {
	Level   NoticeLevel
	Message string
}

// Dispatcher applies operator intents: mark in flight, call the backend,
// commit the lifecycle transition locally only on success, clear the marker.
// One action per finding id at a time; a second concurrent action on the
// same finding is rejected with ErrActionInFlight.
type Dispatcher struct {
	mu       sync.Mutex
	inFlight map[string]string // finding id -> action name
	closed   bool

	store    *Store
	remote   Remote
	onNotice func(Notice)
}

// NewDispatcher wires the dispatcher to the local store and backend.
func NewDispatcher(store *Store, remote Remote) *Dispatcher {
	return &Dispatcher{
		inFlight: make(map[string]string),
		store:    store,
		remote:   remote,
	}
}

// OnNotice registers the notice callback. Optional.
func (d *Dispatcher) OnNotice(fn func(Notice)) {
	d.mu.Lock()
	d.onNotice = fn
	d.mu.Unlock()
}

// InFlight returns the finding ids with an action underway. The refresher
// uses this to avoid overwriting findings mid-action.
func (d *Dispatcher) InFlight() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]bool, len(d.inFlight))
	for id := range d.inFlight {
		out[id] = true
	}
	return out
}

// Close stops the dispatcher. Further actions are rejected and any dangling
// completion becomes a no-op.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.inFlight = make(map[string]string)
	d.mu.Unlock()
	setInFlight(0)
}

// begin claims the in-flight slot for a finding.
func (d *Dispatcher) begin(findingID, action string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	if current, busy := d.inFlight[findingID]; busy {
		return fmt.Errorf("%w: %s", ErrActionInFlight, current)
	}
	d.inFlight[findingID] = action
	setInFlight(len(d.inFlight))
	return nil
}

// end releases the slot. Safe after Close.
func (d *Dispatcher) end(findingID string) {
	d.mu.Lock()
	delete(d.inFlight, findingID)
	n := len(d.inFlight)
	d.mu.Unlock()
	setInFlight(n)
}

func (d *Dispatcher) notify(level NoticeLevel, format string, args ...any) {
	d.mu.Lock()
	fn := d.onNotice
	closed := d.closed
	d.mu.Unlock()
	if fn != nil && !closed {
		fn(Notice{Level: level, Message: fmt.Sprintf(format, args...)})
	}
}

// run executes one action under the in-flight guard: remote call first,
// local commit only on success. A commit rejected because the finding moved
// to a terminal state underneath us is harmless; the authoritative state
// already won.
func (d *Dispatcher) run(ctx context.Context, findingID, action string, remoteCall func() error, commit func(*UnifiedFinding) error) error {
	if err := d.begin(findingID, action); err != nil {
		recordAction(action, "rejected")
		return err
	}
	defer d.end(findingID)

	if err := remoteCall(); err != nil {
		recordAction(action, "failure")
		log.Warn().Err(err).Str("findingID", findingID).Str("action", action).Msg("Action failed")
		d.notify(NoticeError, "Failed to %s finding: %v", action, err)
		return err
	}

	if commit != nil {
		if err := d.store.Mutate(findingID, commit); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
				recordAction(action, "stale")
				log.Debug().Err(err).Str("findingID", findingID).Str("action", action).Msg("Action result stale, keeping authoritative state")
				return nil
			}
			recordAction(action, "failure")
			return err
		}
	}
	recordAction(action, "success")
	return nil
}

// Acknowledge marks the finding seen by the operator.
func (d *Dispatcher) Acknowledge(ctx context.Context, findingID string) error {
	err := d.run(ctx, findingID, "acknowledge",
		func() error { return d.remote.AcknowledgeFinding(ctx, findingID) },
		func(f *UnifiedFinding) error { return Acknowledge(f, time.Now()) })
	if err == nil {
		d.notify(NoticeSuccess, "Finding acknowledged")
	}
	return err
}

// Snooze hides the finding for the given number of hours.
func (d *Dispatcher) Snooze(ctx context.Context, findingID string, hours float64) error {
	if hours <= 0 {
		return fmt.Errorf("%w: snooze hours must be positive", ErrInvalidTransition)
	}
	err := d.run(ctx, findingID, "snooze",
		func() error { return d.remote.SnoozeFinding(ctx, findingID, hours) },
		func(f *UnifiedFinding) error {
			now := time.Now()
			return Snooze(f, now.Add(time.Duration(hours*float64(time.Hour))), now)
		})
	if err == nil {
		d.notify(NoticeSuccess, "Finding snoozed for %gh", hours)
	}
	return err
}

// Dismiss sets the finding aside with a reason and optional note.
func (d *Dispatcher) Dismiss(ctx context.Context, findingID string, reason DismissedReason, note string) error {
	if !ValidDismissedReasons[reason] {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	err := d.run(ctx, findingID, "dismiss",
		func() error { return d.remote.DismissFinding(ctx, findingID, reason, note) },
		func(f *UnifiedFinding) error { return Dismiss(f, reason, note, time.Now()) })
	if err == nil {
		d.notify(NoticeSuccess, "Finding dismissed")
	}
	return err
}

// SetNote attaches or replaces the operator note.
func (d *Dispatcher) SetNote(ctx context.Context, findingID, text string) error {
	err := d.run(ctx, findingID, "note",
		func() error { return d.remote.SetFindingNote(ctx, findingID, text) },
		func(f *UnifiedFinding) error {
			SetUserNote(f, text, time.Now())
			return nil
		})
	if err == nil {
		d.notify(NoticeSuccess, "Note saved")
	}
	return err
}

// ApproveFix approves and executes the pending fix for a finding.
func (d *Dispatcher) ApproveFix(ctx context.Context, findingID, approvalID string) error {
	var result *ExecutionResult
	err := d.run(ctx, findingID, "approve_fix",
		func() error {
			var err error
			result, err = d.remote.ApproveInvestigationFix(ctx, approvalID)
			return err
		},
		func(f *UnifiedFinding) error {
			now := time.Now()
			if result != nil && !result.Success {
				f.InvestigationOutcome = string(investigation.OutcomeFixFailed)
				f.appendEvent(EventFixExecuted, now, StatusActive, StatusActive, "fix failed: "+result.Error)
				return nil
			}
			f.InvestigationOutcome = string(investigation.OutcomeFixExecuted)
			f.appendEvent(EventFixExecuted, now, StatusActive, StatusActive, "approved fix executed")
			return nil
		})
	if err != nil {
		return err
	}
	if result != nil && !result.Success {
		d.notify(NoticeError, "Fix executed but reported failure: %s", result.Error)
	} else {
		d.notify(NoticeSuccess, "Fix approved and executed")
	}
	return nil
}

// DenyFix denies the pending fix.
func (d *Dispatcher) DenyFix(ctx context.Context, findingID, approvalID, reason string) error {
	err := d.run(ctx, findingID, "deny_fix",
		func() error { return d.remote.DenyInvestigationFix(ctx, approvalID, reason) },
		nil)
	if err == nil {
		d.notify(NoticeInfo, "Fix denied")
	}
	return err
}

// ExecutePlan approves a legacy remediation plan and runs the resulting
// execution in one step.
func (d *Dispatcher) ExecutePlan(ctx context.Context, findingID, planID string) error {
	var result *ExecutionResult
	err := d.run(ctx, findingID, "execute_plan",
		func() error {
			executionID, err := d.remote.ApproveRemediationPlan(ctx, planID)
			if err != nil {
				return err
			}
			result, err = d.remote.ExecuteRemediationPlan(ctx, executionID)
			return err
		},
		func(f *UnifiedFinding) error {
			now := time.Now()
			if result != nil && !result.Success {
				f.appendEvent(EventFixExecuted, now, StatusActive, StatusActive, "remediation plan failed: "+result.Error)
				return nil
			}
			f.appendEvent(EventFixExecuted, now, StatusActive, StatusActive, "remediation plan executed")
			return nil
		})
	if err != nil {
		return err
	}
	if result != nil && !result.Success {
		d.notify(NoticeError, "Plan executed but reported failure: %s", result.Error)
	} else {
		d.notify(NoticeSuccess, "Remediation plan executed")
	}
	return nil
}

// ReapproveAndExecute re-issues an approval for a fix whose window lapsed
// and immediately attempts execution.
func (d *Dispatcher) ReapproveAndExecute(ctx context.Context, findingID string) error {
	var result *ExecutionResult
	err := d.run(ctx, findingID, "reapprove_fix",
		func() error {
			approvalID, err := d.remote.ReapproveInvestigationFix(ctx, findingID)
			if err != nil {
				return err
			}
			result, err = d.remote.ApproveInvestigationFix(ctx, approvalID)
			return err
		},
		func(f *UnifiedFinding) error {
			now := time.Now()
			if result != nil && !result.Success {
				f.InvestigationOutcome = string(investigation.OutcomeFixFailed)
				f.appendEvent(EventFixExecuted, now, StatusActive, StatusActive, "reapproved fix failed: "+result.Error)
				return nil
			}
			f.InvestigationOutcome = string(investigation.OutcomeFixExecuted)
			f.appendEvent(EventFixExecuted, now, StatusActive, StatusActive, "reapproved fix executed")
			return nil
		})
	if err != nil {
		return err
	}
	if result != nil && !result.Success {
		d.notify(NoticeError, "Fix executed but reported failure: %s", result.Error)
	} else {
		d.notify(NoticeSuccess, "Fix re-approved and executed")
	}
	return nil
}
