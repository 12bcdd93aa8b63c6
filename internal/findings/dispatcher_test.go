package findings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeRemote records calls and fails on demand. blockCh, when set, holds
// the remote call open until the channel is closed.
type fakeRemote struct {
	mu      sync.Mutex
	calls   []string
	failAll bool
	blockCh chan struct{}

	approveResult *ExecutionResult
	reapprovalID  string
	executionID   string
}

func (r *fakeRemote) record(name string) error {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	fail := r.failAll
	block := r.blockCh
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	if fail {
		return errors.New("backend unreachable")
	}
	return nil
}

func (r *fakeRemote) callCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (r *fakeRemote) AcknowledgeFinding(ctx context.Context, id string) error {
	return r.record("acknowledge")
}

func (r *fakeRemote) DismissFinding(ctx context.Context, id string, reason DismissedReason, note string) error {
	return r.record("dismiss")
}

func (r *fakeRemote) SnoozeFinding(ctx context.Context, id string, hours float64) error {
	return r.record("snooze")
}

func (r *fakeRemote) SetFindingNote(ctx context.Context, id, text string) error {
	return r.record("note")
}

func (r *fakeRemote) ApproveInvestigationFix(ctx context.Context, approvalID string) (*ExecutionResult, error) {
	if err := r.record("approve"); err != nil {
		return nil, err
	}
	if r.approveResult != nil {
		return r.approveResult, nil
	}
	return &ExecutionResult{Success: true, Output: "done"}, nil
}

func (r *fakeRemote) DenyInvestigationFix(ctx context.Context, approvalID, reason string) error {
	return r.record("deny")
}

func (r *fakeRemote) ReapproveInvestigationFix(ctx context.Context, findingID string) (string, error) {
	if err := r.record("reapprove"); err != nil {
		return "", err
	}
	return r.reapprovalID, nil
}

func (r *fakeRemote) ApproveRemediationPlan(ctx context.Context, planID string) (string, error) {
	if err := r.record("approve_plan"); err != nil {
		return "", err
	}
	if r.executionID == "" {
		return "exec-1", nil
	}
	return r.executionID, nil
}

func (r *fakeRemote) ExecuteRemediationPlan(ctx context.Context, executionID string) (*ExecutionResult, error) {
	if err := r.record("execute_plan"); err != nil {
		return nil, err
	}
	if r.approveResult != nil {
		return r.approveResult, nil
	}
	return &ExecutionResult{Success: true, Output: "done"}, nil
}

func newTestDispatcher(t *testing.T, remote *fakeRemote) (*Dispatcher, *Store) {
	t.Helper()
	store := NewStore(nil)
	store.Upsert(activeFinding("f1"))
	return NewDispatcher(store, remote), store
}

func TestAcknowledgeCommitsOnSuccess(t *testing.T) {
	remote := &fakeRemote{}
	d, store := newTestDispatcher(t, remote)

	if err := d.Acknowledge(context.Background(), "f1"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if remote.callCount("acknowledge") != 1 {
		t.Errorf("remote called %d times", remote.callCount("acknowledge"))
	}
	f := mustGetStored(t, store, "f1")
	if f.AcknowledgedAt == nil {
		t.Error("acknowledgement not committed")
	}
	if len(d.InFlight()) != 0 {
		t.Error("in-flight marker not cleared")
	}
}

func TestEveryActionNoticesOnSuccess(t *testing.T) {
	remote := &fakeRemote{reapprovalID: "ap-new"}
	d, store := newTestDispatcher(t, remote)
	store.Upsert(activeFinding("f2"))
	store.Upsert(activeFinding("f3"))
	store.Upsert(activeFinding("f4"))

	var notices []Notice
	d.OnNotice(func(n Notice) { notices = append(notices, n) })

	actions := []struct {
		name string
		call func() error
	}{
		{"acknowledge", func() error { return d.Acknowledge(context.Background(), "f1") }},
		{"snooze", func() error { return d.Snooze(context.Background(), "f2", 4) }},
		{"note", func() error { return d.SetNote(context.Background(), "f3", "checking") }},
		{"dismiss", func() error { return d.Dismiss(context.Background(), "f4", ReasonWillFixLater, "") }},
	}
	for _, a := range actions {
		notices = nil
		if err := a.call(); err != nil {
			t.Fatalf("%s: %v", a.name, err)
		}
		if len(notices) != 1 || notices[0].Level != NoticeSuccess {
			t.Errorf("%s success notices = %+v, want one success", a.name, notices)
		}
	}
}

func TestFailedActionNoticesError(t *testing.T) {
	remote := &fakeRemote{failAll: true}
	d, _ := newTestDispatcher(t, remote)

	var notices []Notice
	d.OnNotice(func(n Notice) { notices = append(notices, n) })

	if err := d.Acknowledge(context.Background(), "f1"); err == nil {
		t.Fatal("expected remote error")
	}
	if len(notices) != 1 || notices[0].Level != NoticeError {
		t.Errorf("failure notices = %+v, want one error", notices)
	}
}

func TestRemoteFailureLeavesStateUntouched(t *testing.T) {
	remote := &fakeRemote{failAll: true}
	d, store := newTestDispatcher(t, remote)

	if err := d.Acknowledge(context.Background(), "f1"); err == nil {
		t.Fatal("expected remote error")
	}
	f := mustGetStored(t, store, "f1")
	if f.AcknowledgedAt != nil {
		t.Error("acknowledgement committed despite remote failure")
	}
	if len(d.InFlight()) != 0 {
		t.Error("in-flight marker not cleared after failure")
	}
}

func TestSecondActionRejectedWhileInFlight(t *testing.T) {
	remote := &fakeRemote{blockCh: make(chan struct{})}
	d, _ := newTestDispatcher(t, remote)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- d.Acknowledge(context.Background(), "f1")
	}()

	// Wait for the first action to claim the slot.
	deadline := time.Now().Add(2 * time.Second)
	for len(d.InFlight()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first action never became in-flight")
		}
		time.Sleep(time.Millisecond)
	}

	err := d.Dismiss(context.Background(), "f1", ReasonExpectedBehavior, "")
	if !errors.Is(err, ErrActionInFlight) {
		t.Fatalf("concurrent action error = %v, want ErrActionInFlight", err)
	}

	close(remote.blockCh)
	if err := <-firstDone; err != nil {
		t.Fatalf("first action: %v", err)
	}
	if remote.callCount("dismiss") != 0 {
		t.Error("rejected action still reached the backend")
	}
}

func TestActionsOnDifferentFindingsRunConcurrently(t *testing.T) {
	remote := &fakeRemote{blockCh: make(chan struct{})}
	d, store := newTestDispatcher(t, remote)
	store.Upsert(activeFinding("f2"))

	done := make(chan error, 1)
	go func() {
		done <- d.Acknowledge(context.Background(), "f1")
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(d.InFlight()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first action never became in-flight")
		}
		time.Sleep(time.Millisecond)
	}

	// Unblock subsequent calls but leave the first one parked.
	remote.mu.Lock()
	block := remote.blockCh
	remote.blockCh = nil
	remote.mu.Unlock()

	if err := d.Acknowledge(context.Background(), "f2"); err != nil {
		t.Fatalf("action on different finding blocked: %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first action: %v", err)
	}
}

func TestStaleCommitSwallowed(t *testing.T) {
	// The finding resolves between the remote call and the local commit.
	// The commit is rejected, but the action still reports success.
	store := NewStore(nil)
	store.Upsert(activeFinding("f1"))
	remote := &fakeRemote{}
	d := NewDispatcher(store, remote)

	remote.blockCh = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- d.Acknowledge(context.Background(), "f1")
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(d.InFlight()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("action never became in-flight")
		}
		time.Sleep(time.Millisecond)
	}

	// Concurrent auto-resolve wins the race.
	if err := store.Mutate("f1", func(f *UnifiedFinding) error {
		AutoResolve(f, time.Now())
		return nil
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	close(remote.blockCh)
	if err := <-done; err != nil {
		t.Fatalf("stale acknowledge should be swallowed, got %v", err)
	}
	f := mustGetStored(t, store, "f1")
	if f.Status() != StatusResolved {
		t.Errorf("status = %s, want resolved", f.Status())
	}
	if f.AcknowledgedAt != nil {
		t.Error("stale acknowledgement overwrote resolved state")
	}
}

func TestSnoozeValidation(t *testing.T) {
	remote := &fakeRemote{}
	d, _ := newTestDispatcher(t, remote)

	if err := d.Snooze(context.Background(), "f1", 0); err == nil {
		t.Error("zero-hour snooze accepted")
	}
	if err := d.Snooze(context.Background(), "f1", -2); err == nil {
		t.Error("negative snooze accepted")
	}
	if remote.callCount("snooze") != 0 {
		t.Error("invalid snooze reached the backend")
	}
	if err := d.Snooze(context.Background(), "f1", 4); err != nil {
		t.Errorf("snooze: %v", err)
	}
}

func TestDismissValidatesReason(t *testing.T) {
	remote := &fakeRemote{}
	d, _ := newTestDispatcher(t, remote)

	err := d.Dismiss(context.Background(), "f1", DismissedReason("because"), "")
	if !errors.Is(err, ErrInvalidReason) {
		t.Fatalf("err = %v, want ErrInvalidReason", err)
	}
	if remote.callCount("dismiss") != 0 {
		t.Error("invalid dismiss reached the backend")
	}
}

func TestApproveFixRecordsOutcome(t *testing.T) {
	remote := &fakeRemote{}
	d, store := newTestDispatcher(t, remote)

	if err := d.ApproveFix(context.Background(), "f1", "ap-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	f := mustGetStored(t, store, "f1")
	if f.InvestigationOutcome != "fix_executed" {
		t.Errorf("outcome = %s", f.InvestigationOutcome)
	}
	if countEvents(f, EventFixExecuted) != 1 {
		t.Error("missing fix executed event")
	}
}

func TestApproveFixFailureRecorded(t *testing.T) {
	remote := &fakeRemote{approveResult: &ExecutionResult{Success: false, Error: "exit 1"}}
	d, store := newTestDispatcher(t, remote)

	var notices []Notice
	d.OnNotice(func(n Notice) { notices = append(notices, n) })

	if err := d.ApproveFix(context.Background(), "f1", "ap-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	f := mustGetStored(t, store, "f1")
	if f.InvestigationOutcome != "fix_failed" {
		t.Errorf("outcome = %s", f.InvestigationOutcome)
	}
	if len(notices) != 1 || notices[0].Level != NoticeError {
		t.Errorf("notices = %+v", notices)
	}
}

func TestReapproveAndExecute(t *testing.T) {
	remote := &fakeRemote{reapprovalID: "ap-new"}
	d, store := newTestDispatcher(t, remote)

	if err := d.ReapproveAndExecute(context.Background(), "f1"); err != nil {
		t.Fatalf("reapprove: %v", err)
	}
	if remote.callCount("reapprove") != 1 || remote.callCount("approve") != 1 {
		t.Errorf("calls = %v", remote.calls)
	}
	f := mustGetStored(t, store, "f1")
	if f.InvestigationOutcome != "fix_executed" {
		t.Errorf("outcome = %s", f.InvestigationOutcome)
	}
}

func TestExecutePlan(t *testing.T) {
	remote := &fakeRemote{}
	d, store := newTestDispatcher(t, remote)

	if err := d.ExecutePlan(context.Background(), "f1", "plan-1"); err != nil {
		t.Fatalf("execute plan: %v", err)
	}
	if remote.callCount("approve_plan") != 1 || remote.callCount("execute_plan") != 1 {
		t.Errorf("calls = %v", remote.calls)
	}
	f := mustGetStored(t, store, "f1")
	if countEvents(f, EventFixExecuted) != 1 {
		t.Error("missing execution event")
	}
}

func TestExecutePlanApprovalFailureStopsExecution(t *testing.T) {
	remote := &fakeRemote{failAll: true}
	d, store := newTestDispatcher(t, remote)

	if err := d.ExecutePlan(context.Background(), "f1", "plan-1"); err == nil {
		t.Fatal("expected remote error")
	}
	if remote.callCount("execute_plan") != 0 {
		t.Error("execution attempted after failed approval")
	}
	f := mustGetStored(t, store, "f1")
	if len(f.Lifecycle) != 0 {
		t.Error("failed plan run left lifecycle entries")
	}
}

func TestClosedDispatcherRejectsEverything(t *testing.T) {
	remote := &fakeRemote{}
	d, _ := newTestDispatcher(t, remote)
	d.Close()

	actions := []func() error{
		func() error { return d.Acknowledge(context.Background(), "f1") },
		func() error { return d.Snooze(context.Background(), "f1", 1) },
		func() error { return d.Dismiss(context.Background(), "f1", ReasonNotAnIssue, "") },
		func() error { return d.SetNote(context.Background(), "f1", "x") },
	}
	for i, action := range actions {
		if err := action(); !errors.Is(err, ErrDispatcherClosed) {
			t.Errorf("action %d after close: err = %v, want ErrDispatcherClosed", i, err)
		}
	}
	if len(remote.calls) != 0 {
		t.Errorf("closed dispatcher reached the backend: %v", remote.calls)
	}
}

func TestInFlightSnapshot(t *testing.T) {
	remote := &fakeRemote{blockCh: make(chan struct{})}
	d, _ := newTestDispatcher(t, remote)

	done := make(chan error, 1)
	go func() {
		done <- d.SetNote(context.Background(), "f1", "checking")
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if inflight := d.InFlight(); inflight["f1"] {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("note action never became in-flight")
		}
		time.Sleep(time.Millisecond)
	}

	snap := d.InFlight()
	delete(snap, "f1") // mutating the snapshot must not affect the dispatcher
	if !d.InFlight()["f1"] {
		t.Error("snapshot aliased internal state")
	}

	close(remote.blockCh)
	if err := <-done; err != nil {
		t.Fatalf("note: %v", err)
	}
}
