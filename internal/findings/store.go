package findings

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const saveDebounce = 5 * time.Second

// Store holds the unified finding set. All reads return deep copies; callers
// never see store-owned pointers. Mutations go through the lifecycle
// functions so the timestamp invariants hold everywhere.
type Store struct {
	mu         sync.RWMutex
	findings   map[string]*UnifiedFinding
	byResource map[string][]string // resource id -> finding ids
	byAlert    map[string]string   // alert id -> finding id
	bySource   map[Source][]string

	persistence Persistence
	saveTimer   *time.Timer
	savePending bool

	onChanged func() // fired after any mutation, outside the lock
}

// NewStore creates a finding store. persistence may be nil (no snapshots).
func NewStore(persistence Persistence) *Store {
	s := &Store{
		findings:    make(map[string]*UnifiedFinding),
		byResource:  make(map[string][]string),
		byAlert:     make(map[string]string),
		bySource:    make(map[Source][]string),
		persistence: persistence,
	}
	if persistence != nil {
		if loaded, err := persistence.Load(); err != nil {
			log.Warn().Err(err).Msg("Failed to load persisted findings")
		} else {
			for _, f := range loaded {
				s.indexLocked(f)
			}
			if len(loaded) > 0 {
				log.Info().Int("count", len(loaded)).Msg("Loaded persisted findings")
			}
		}
	}
	return s
}

// OnChanged registers the change callback. Fired once per mutating call,
// after the lock is released.
func (s *Store) OnChanged(fn func()) {
	s.mu.Lock()
	s.onChanged = fn
	s.mu.Unlock()
}

// indexLocked inserts f into the maps; caller holds the write lock (or has
// exclusive access during construction).
func (s *Store) indexLocked(f *UnifiedFinding) {
	s.findings[f.ID] = f
	s.byResource[f.ResourceID] = appendUnique(s.byResource[f.ResourceID], f.ID)
	s.bySource[f.Source] = appendUnique(s.bySource[f.Source], f.ID)
	if f.AlertID != "" {
		s.byAlert[f.AlertID] = f.ID
	}
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// Upsert merges an incoming normalized finding. A new id is inserted as-is.
// An existing id keeps its user state (acknowledgement, note, dismissal,
// lifecycle trail) and takes the incoming detection fields; a dismissed or
// resolved finding that is detected again regresses to active unless
// suppressed, and a dismissed finding whose severity escalated reactivates
// even when suppressed.
func (s *Store) Upsert(incoming *UnifiedFinding) {
	if incoming == nil || incoming.ID == "" {
		return
	}
	now := time.Now()

	s.mu.Lock()
	s.mergeLocked(incoming, now)
	s.scheduleSaveLocked()
	s.mu.Unlock()
	s.notifyChanged()
}

// mergeLocked folds one incoming detection into the set; caller holds the
// write lock.
func (s *Store) mergeLocked(incoming *UnifiedFinding, now time.Time) {
	existing, ok := s.findings[incoming.ID]
	if !ok {
		f := incoming.Clone()
		if f.LastSeenAt.IsZero() {
			f.LastSeenAt = now
		}
		s.indexLocked(f)
		log.Debug().
			Str("findingID", f.ID).
			Str("source", string(f.Source)).
			Str("severity", string(f.Severity)).
			Msg("New finding")
		return
	}

	if !EscalateDismissed(existing, incoming.Severity, now) {
		if Regress(existing, now, "detected again by "+string(incoming.Source)) {
			recordRegression(string(existing.Source))
		}
	}
	// Refresh detection fields; user state stays.
	existing.Severity = incoming.Severity
	existing.Title = incoming.Title
	existing.Description = incoming.Description
	existing.Recommendation = incoming.Recommendation
	existing.Evidence = incoming.Evidence
	existing.Value = incoming.Value
	existing.Threshold = incoming.Threshold
	if incoming.InvestigationSessionID != "" {
		existing.InvestigationSessionID = incoming.InvestigationSessionID
		existing.InvestigationStatus = incoming.InvestigationStatus
		existing.InvestigationOutcome = incoming.InvestigationOutcome
		existing.InvestigationAttempts = incoming.InvestigationAttempts
		existing.LastInvestigatedAt = incoming.LastInvestigatedAt
	}
	existing.LastSeenAt = now
}

// Get returns a copy of the finding, or ErrNotFound.
func (s *Store) Get(id string) (*UnifiedFinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.findings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

// GetByAlert returns the finding tracking the given alert id, or nil.
func (s *Store) GetByAlert(alertID string) *UnifiedFinding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAlert[alertID]
	if !ok {
		return nil
	}
	if f := s.findings[id]; f != nil {
		return f.Clone()
	}
	return nil
}

// All returns copies of every finding, unordered.
func (s *Store) All() []*UnifiedFinding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*UnifiedFinding, 0, len(s.findings))
	for _, f := range s.findings {
		out = append(out, f.Clone())
	}
	return out
}

// ForResource returns copies of the findings for one resource.
func (s *Store) ForResource(resourceID string) []*UnifiedFinding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byResource[resourceID]
	out := make([]*UnifiedFinding, 0, len(ids))
	for _, id := range ids {
		if f := s.findings[id]; f != nil {
			out = append(out, f.Clone())
		}
	}
	return out
}

// Mutate applies fn to the stored finding under the write lock. fn returning
// an error leaves no trace; the change callback and save fire only on
// success. This is the single write path for lifecycle transitions.
func (s *Store) Mutate(id string, fn func(*UnifiedFinding) error) error {
	s.mu.Lock()
	f, ok := s.findings[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if err := fn(f); err != nil {
		s.mu.Unlock()
		return err
	}
	s.scheduleSaveLocked()
	s.mu.Unlock()
	s.notifyChanged()
	return nil
}

// ReconcileAuthoritative folds a full feed snapshot into the set. Findings
// with ids in skip (in-flight actions) keep their local copy untouched until
// the action resolves. Findings absent from the feed are implicitly
// resolved, never deleted. Returns the number of implicit resolutions.
func (s *Store) ReconcileAuthoritative(feed []*UnifiedFinding, skip map[string]bool) int {
	now := time.Now()
	seen := make(map[string]bool, len(feed))

	s.mu.Lock()
	for _, in := range feed {
		if in == nil || in.ID == "" {
			continue
		}
		seen[in.ID] = true
		if skip[in.ID] {
			continue
		}
		s.mergeLocked(in, now)
	}
	autoResolved := 0
	for id, f := range s.findings {
		if seen[id] || skip[id] || f.ResolvedAt != nil {
			continue
		}
		AutoResolve(f, now)
		autoResolved++
		recordAutoResolve()
	}
	s.scheduleSaveLocked()
	s.mu.Unlock()

	if autoResolved > 0 {
		log.Info().Int("count", autoResolved).Msg("Findings no longer reported, marked resolved")
	}
	s.notifyChanged()
	return autoResolved
}

func (s *Store) notifyChanged() {
	s.mu.RLock()
	fn := s.onChanged
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// scheduleSaveLocked arms the debounced save; caller holds the write lock.
func (s *Store) scheduleSaveLocked() {
	if s.persistence == nil || s.savePending {
		return
	}
	s.savePending = true
	s.saveTimer = time.AfterFunc(saveDebounce, func() {
		s.mu.Lock()
		s.savePending = false
		s.mu.Unlock()
		s.save()
	})
}

// ForceSave flushes pending state immediately, used at shutdown.
func (s *Store) ForceSave() {
	s.mu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.savePending = false
	s.mu.Unlock()
	s.save()
}

func (s *Store) save() {
	if s.persistence == nil {
		return
	}
	s.mu.RLock()
	snapshot := make([]*UnifiedFinding, 0, len(s.findings))
	for _, f := range s.findings {
		snapshot = append(snapshot, f.Clone())
	}
	s.mu.RUnlock()
	if err := s.persistence.Save(snapshot); err != nil {
		log.Error().Err(err).Msg("Failed to persist findings")
	}
}
