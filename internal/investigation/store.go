package investigation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Fetcher retrieves a session from the backend. Implemented by the HTTP
// client; the engine sees only this.
type Fetcher interface {
	FetchSession(ctx context.Context, sessionID string) (*Session, error)
}

// Store caches investigation sessions by id and by finding. Sessions are
// fetched lazily: the expired-approval correlation path needs the proposed
// fix, and fetching every session up front would be wasted work for the
// common case where the live approval is still pending.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session // by session id
	byFinding map[string]string   // finding id -> latest session id
	fetcher   Fetcher
}

// NewStore creates an empty session cache backed by the given fetcher.
// A nil fetcher disables lazy fetching; lookups then only see sessions
// loaded via Put.
func NewStore(fetcher Fetcher) *Store {
	return &Store{
		sessions:  make(map[string]*Session),
		byFinding: make(map[string]string),
		fetcher:   fetcher,
	}
}

// Put inserts or replaces a session. The byFinding index keeps the session
// with the latest StartedAt per finding.
func (s *Store) Put(session *Session) {
	if session == nil || session.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	if session.FindingID == "" {
		return
	}
	if prevID, ok := s.byFinding[session.FindingID]; ok {
		if prev := s.sessions[prevID]; prev != nil && prev.StartedAt.After(session.StartedAt) {
			return
		}
	}
	s.byFinding[session.FindingID] = session.ID
}

// ReplaceAll swaps the cached session set, used by the background refresher.
func (s *Store) ReplaceAll(sessions []*Session) {
	s.mu.Lock()
	s.sessions = make(map[string]*Session, len(sessions))
	s.byFinding = make(map[string]string)
	s.mu.Unlock()
	for _, session := range sessions {
		s.Put(session)
	}
}

// Get returns the cached session, fetching it from the backend on a miss.
// Fetched sessions are cached; repeat lookups for the same id hit memory.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return session, nil
	}
	if s.fetcher == nil {
		return nil, nil
	}
	start := time.Now()
	session, err := s.fetcher.FetchSession(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("sessionID", sessionID).Msg("Failed to fetch investigation session")
		return nil, err
	}
	if session != nil {
		s.Put(session)
		log.Debug().
			Str("sessionID", sessionID).
			Dur("elapsed", time.Since(start)).
			Msg("Fetched investigation session")
	}
	return session, nil
}

// GetLatestByFinding returns the most recent session for a finding, or nil.
func (s *Store) GetLatestByFinding(findingID string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byFinding[findingID]
	if !ok {
		return nil
	}
	return s.sessions[id]
}
