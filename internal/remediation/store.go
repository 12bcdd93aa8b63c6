package remediation

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Store holds remediation plans in memory, indexed by finding. The engine
// treats the backend feed as authoritative; ReplaceAll swaps the whole set
// on each refresh.
type Store struct {
	mu        sync.RWMutex
	plans     map[string]*Plan   // by plan id
	byFinding map[string][]*Plan // all plans per finding id
}

// NewStore creates an empty plan store.
func NewStore() *Store {
	return &Store{
		plans:     make(map[string]*Plan),
		byFinding: make(map[string][]*Plan),
	}
}

// Add validates and inserts a plan. Missing ids and timestamps are filled.
func (s *Store) Add(p *Plan) error {
	if err := Validate(p); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.ExpiresAt.IsZero() {
		p.ExpiresAt = p.CreatedAt.Add(PlanExpiry)
	}
	p.RiskLevel = AssessRisk(p)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p
	s.byFinding[p.FindingID] = append(s.byFinding[p.FindingID], p)
	return nil
}

// ReplaceAll swaps the stored plan set. Invalid plans are skipped with a
// warning rather than failing the whole refresh.
func (s *Store) ReplaceAll(plans []*Plan) {
	fresh := make(map[string]*Plan, len(plans))
	byFinding := make(map[string][]*Plan)
	for _, p := range plans {
		if err := Validate(p); err != nil {
			log.Warn().Err(err).Str("planID", p.ID).Msg("Skipping invalid remediation plan")
			continue
		}
		p.RiskLevel = AssessRisk(p)
		fresh[p.ID] = p
		byFinding[p.FindingID] = append(byFinding[p.FindingID], p)
	}
	s.mu.Lock()
	s.plans = fresh
	s.byFinding = byFinding
	s.mu.Unlock()
}

// Get returns the plan by id, or nil.
func (s *Store) Get(id string) *Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plans[id]
}

// LatestForFinding returns the newest unexpired plan for a finding, or nil.
// Newest by CreatedAt; equal timestamps break toward the greater id so the
// choice is stable across refreshes.
func (s *Store) LatestForFinding(findingID string, now time.Time) *Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Plan
	for _, p := range s.byFinding[findingID] {
		if p.Expired(now) {
			continue
		}
		if best == nil {
			best = p
			continue
		}
		if p.CreatedAt.After(best.CreatedAt) || (p.CreatedAt.Equal(best.CreatedAt) && p.ID > best.ID) {
			best = p
		}
	}
	return best
}

// Count returns the number of stored plans.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plans)
}
