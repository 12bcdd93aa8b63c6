package findings

import (
	"fmt"
	"time"
)

// Lifecycle transitions. Each function mutates the finding in place, keeps
// the timestamp fields mutually consistent, and appends the matching
// lifecycle event. Status is never written directly; it falls out of the
// timestamps (see StatusAt). All functions take the clock as an argument so
// transitions are deterministic under test.

// Acknowledge marks an active finding as seen by an operator. Acknowledging
// a resolved or dismissed finding is rejected: a concurrent resolution wins
// over a late acknowledgement.
func Acknowledge(f *UnifiedFinding, now time.Time) error {
	st := f.StatusAt(now)
	if st != StatusActive {
		return fmt.Errorf("%w: acknowledge from %s", ErrInvalidTransition, st)
	}
	if f.AcknowledgedAt != nil {
		return nil // idempotent
	}
	f.AcknowledgedAt = &now
	f.appendEvent(EventAcknowledged, now, st, st, "")
	return nil
}

// Unacknowledge clears the acknowledgement flag.
func Unacknowledge(f *UnifiedFinding, now time.Time) error {
	if f.AcknowledgedAt == nil {
		return nil
	}
	st := f.StatusAt(now)
	f.AcknowledgedAt = nil
	f.appendEvent(EventUnacked, now, st, st, "")
	return nil
}

// Snooze hides the finding until the given deadline. The deadline must be in
// the future. The acknowledgement flag survives the snooze so the finding
// returns in its prior emphasis when the snooze lapses.
func Snooze(f *UnifiedFinding, until time.Time, now time.Time) error {
	if !until.After(now) {
		return fmt.Errorf("%w: snooze deadline %s is not in the future", ErrInvalidTransition, until.Format(time.RFC3339))
	}
	st := f.StatusAt(now)
	if st == StatusResolved || st == StatusDismissed {
		return fmt.Errorf("%w: snooze from %s", ErrInvalidTransition, st)
	}
	f.SnoozedUntil = &until
	f.appendEvent(EventSnoozed, now, st, StatusSnoozed, "until "+until.UTC().Format(time.RFC3339))
	return nil
}

// Unsnooze clears the snooze deadline, returning the finding to active
// immediately rather than at the deadline.
func Unsnooze(f *UnifiedFinding, now time.Time) error {
	if f.SnoozedUntil == nil {
		return nil
	}
	st := f.StatusAt(now)
	f.SnoozedUntil = nil
	f.appendEvent(EventUnsnoozed, now, st, f.StatusAt(now), "")
	return nil
}

// Dismiss marks the finding as intentionally set aside with a reason from
// the closed set and an optional note. Dismissing with not_an_issue
// additionally suppresses the finding so future re-detections are ignored
// instead of regressing it.
func Dismiss(f *UnifiedFinding, reason DismissedReason, note string, now time.Time) error {
	if !ValidDismissedReasons[reason] {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	st := f.StatusAt(now)
	if st == StatusResolved {
		return fmt.Errorf("%w: dismiss from %s", ErrInvalidTransition, st)
	}
	f.DismissedReason = reason
	f.SnoozedUntil = nil
	if note != "" {
		f.UserNote = note
	}
	if reason == ReasonNotAnIssue {
		f.Suppressed = true
	}
	msg := note
	if msg == "" {
		msg = string(reason)
	}
	f.appendEvent(EventDismissed, now, st, StatusDismissed, msg)
	return nil
}

// Resolve marks the finding resolved. Resolution takes precedence over every
// other status, so it is accepted from any state and is idempotent.
func Resolve(f *UnifiedFinding, now time.Time) {
	if f.ResolvedAt != nil {
		return
	}
	st := f.StatusAt(now)
	f.ResolvedAt = &now
	f.appendEvent(EventResolved, now, st, StatusResolved, "")
}

// AutoResolve marks a finding implicitly resolved because the authoritative
// feed no longer reports it. Same effect as Resolve but the trail records
// that no operator or fix did it.
func AutoResolve(f *UnifiedFinding, now time.Time) {
	if f.ResolvedAt != nil {
		return
	}
	st := f.StatusAt(now)
	f.ResolvedAt = &now
	f.appendEvent(EventAutoResolved, now, st, StatusResolved, "no longer reported by source")
}

// SetUserNote attaches or replaces the operator note.
func SetUserNote(f *UnifiedFinding, note string, now time.Time) {
	if f.UserNote == note {
		return
	}
	st := f.StatusAt(now)
	f.UserNote = note
	f.appendEvent(EventNoteUpdated, now, st, st, "")
}

// Regress reactivates a dismissed or resolved finding that has been detected
// again. Suppressed findings do not regress: not_an_issue means stay quiet.
// Returns true if the finding actually changed state.
func Regress(f *UnifiedFinding, now time.Time, message string) bool {
	if f.Suppressed {
		f.LastSeenAt = now
		return false
	}
	st := f.StatusAt(now)
	if st != StatusDismissed && st != StatusResolved {
		f.LastSeenAt = now
		return false
	}
	f.DismissedReason = ""
	f.ResolvedAt = nil
	f.SnoozedUntil = nil
	f.RegressionCount++
	f.LastRegressionAt = &now
	f.LastSeenAt = now
	f.TimesRaised++
	f.appendEvent(EventRegressed, now, st, StatusActive, message)
	return true
}

// EscalateDismissed reactivates a dismissed finding whose re-detected
// severity is worse than when it was dismissed. Escalation overrides
// suppression: a suppressed info finding that comes back critical is worth
// another look.
func EscalateDismissed(f *UnifiedFinding, newSeverity Severity, now time.Time) bool {
	if f.StatusAt(now) != StatusDismissed {
		return false
	}
	if SeverityRank(newSeverity) >= SeverityRank(f.Severity) {
		return false
	}
	f.Suppressed = false
	old := f.Severity
	f.Severity = newSeverity
	f.DismissedReason = ""
	f.ResolvedAt = nil
	f.RegressionCount++
	f.LastRegressionAt = &now
	f.LastSeenAt = now
	f.TimesRaised++
	f.appendEvent(EventRegressed, now, StatusDismissed, StatusActive,
		fmt.Sprintf("severity escalated %s -> %s", old, newSeverity))
	return true
}
