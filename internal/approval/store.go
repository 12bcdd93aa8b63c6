// Package approval manages pending approval requests for proposed fixes.
// Approvals gate command execution: a fix proposed by an investigation waits
// here until an operator approves, denies, or lets it expire.
package approval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ToolInvestigationFix tags approvals created for investigation-proposed
// fixes, as opposed to legacy remediation-plan approvals. The correlation
// path keys off this tag.
const ToolInvestigationFix = "investigation_fix"

// Status values for an approval request.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusExpired  = "expired"
)

// Request is a pending approval for a command execution.
type Request struct {
	ID          string     `json:"id"`
	ToolID      string     `json:"toolId"`
	Command     string     `json:"command"`
	TargetType  string     `json:"targetType"`
	TargetID    string     `json:"targetId"`
	TargetName  string     `json:"targetName,omitempty"`
	Context     string     `json:"context,omitempty"`
	RiskLevel   string     `json:"riskLevel"` // low, medium, high
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requestedAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	DecidedAt   *time.Time `json:"decidedAt,omitempty"`
	DecidedBy   string     `json:"decidedBy,omitempty"`
	DenyReason  string     `json:"denyReason,omitempty"`
	CommandHash string     `json:"commandHash"`
	Consumed    bool       `json:"consumed"`
}

// LivePending reports whether the request is pending and not past its
// expiry. Expiry is implicit on read; nothing rewrites Status to expired
// until the cleanup pass runs.
func (r *Request) LivePending(now time.Time) bool {
	return r.Status == StatusPending && now.Before(r.ExpiresAt)
}

var (
	ErrNotFound       = errors.New("approval not found")
	ErrNotPending     = errors.New("approval is not pending")
	ErrExpired        = errors.New("approval has expired")
	ErrConsumed       = errors.New("approval already consumed")
	ErrHashMismatch   = errors.New("command does not match approved command")
	ErrTooManyPending = errors.New("too many pending approvals")
)

const (
	defaultTimeout = 5 * time.Minute
	maxPending     = 50
	persistFile    = "approvals.json"
)

// Store holds approval requests with JSON snapshot persistence.
type Store struct {
	mu       sync.RWMutex
	requests map[string]*Request
	dataDir  string
}

// NewStore creates an approval store persisting under dataDir. An empty
// dataDir disables persistence (used by tests).
func NewStore(dataDir string) *Store {
	s := &Store{
		requests: make(map[string]*Request),
		dataDir:  dataDir,
	}
	if dataDir != "" {
		if err := s.load(); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Failed to load persisted approvals")
		}
	}
	return s
}

// Create registers a new pending approval. Zero timeout gets the default.
func (s *Store) Create(toolID, command, targetType, targetID, targetName, context string, timeout time.Duration) (*Request, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := 0
	for _, r := range s.requests {
		if r.LivePending(now) {
			pending++
		}
	}
	if pending >= maxPending {
		return nil, ErrTooManyPending
	}

	req := &Request{
		ID:          uuid.New().String(),
		ToolID:      toolID,
		Command:     command,
		TargetType:  targetType,
		TargetID:    targetID,
		TargetName:  targetName,
		Context:     context,
		RiskLevel:   AssessRiskLevel(command),
		Status:      StatusPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(timeout),
		CommandHash: ComputeCommandHash(command),
	}
	s.requests[req.ID] = req
	s.saveLocked()

	log.Info().
		Str("approvalID", req.ID).
		Str("toolID", toolID).
		Str("targetID", targetID).
		Str("riskLevel", req.RiskLevel).
		Msg("Approval request created")
	return req.clone(), nil
}

// Get returns the request by id.
func (s *Store) Get(id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

// Pending returns all live pending requests.
func (s *Store) Pending() []*Request {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Request, 0, len(s.requests))
	for _, r := range s.requests {
		if r.LivePending(now) {
			out = append(out, r.clone())
		}
	}
	return out
}

// All returns every request in the store, decided and pending alike.
func (s *Store) All() []*Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Request, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r.clone())
	}
	return out
}

// PendingForTarget returns the live pending request with the given tool and
// target, or nil. At most one is expected; if several exist the most
// recently requested wins.
func (s *Store) PendingForTarget(toolID, targetID string) *Request {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Request
	for _, r := range s.requests {
		if r.ToolID != toolID || r.TargetID != targetID || !r.LivePending(now) {
			continue
		}
		if best == nil || r.RequestedAt.After(best.RequestedAt) {
			best = r
		}
	}
	if best == nil {
		return nil
	}
	return best.clone()
}

// ExpiredForTarget returns the most recent expired (undecided) request for
// the tool/target, or nil. Used to offer re-approval of a fix whose window
// lapsed.
func (s *Store) ExpiredForTarget(toolID, targetID string) *Request {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Request
	for _, r := range s.requests {
		if r.ToolID != toolID || r.TargetID != targetID {
			continue
		}
		expired := r.Status == StatusExpired || (r.Status == StatusPending && !now.Before(r.ExpiresAt))
		if !expired {
			continue
		}
		if best == nil || r.RequestedAt.After(best.RequestedAt) {
			best = r
		}
	}
	if best == nil {
		return nil
	}
	return best.clone()
}

// ReplaceAll swaps the request set with a backend snapshot. Used when the
// store mirrors a remote approval service instead of owning approvals.
func (s *Store) ReplaceAll(reqs []*Request) {
	s.mu.Lock()
	s.requests = make(map[string]*Request, len(reqs))
	for _, r := range reqs {
		if r != nil && r.ID != "" {
			s.requests[r.ID] = r
		}
	}
	s.saveLocked()
	s.mu.Unlock()
}

// Approve marks a pending request approved. Approving an already-approved
// request is a no-op so double-clicks are harmless.
func (s *Store) Approve(id, decidedBy string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status == StatusApproved {
		return r.clone(), nil
	}
	now := time.Now()
	if !r.LivePending(now) {
		if r.Status == StatusPending {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: status %s", ErrNotPending, r.Status)
	}
	r.Status = StatusApproved
	r.DecidedAt = &now
	r.DecidedBy = decidedBy
	s.saveLocked()
	log.Info().Str("approvalID", id).Str("decidedBy", decidedBy).Msg("Approval granted")
	return r.clone(), nil
}

// Deny marks a pending request denied with a reason.
func (s *Store) Deny(id, decidedBy, reason string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	now := time.Now()
	if !r.LivePending(now) {
		return nil, fmt.Errorf("%w: status %s", ErrNotPending, r.Status)
	}
	r.Status = StatusDenied
	r.DecidedAt = &now
	r.DecidedBy = decidedBy
	r.DenyReason = reason
	s.saveLocked()
	log.Info().Str("approvalID", id).Str("decidedBy", decidedBy).Msg("Approval denied")
	return r.clone(), nil
}

// Consume validates that the command matches the approved one and marks the
// approval used. An approval authorizes exactly one execution.
func (s *Store) Consume(id, command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != StatusApproved {
		return fmt.Errorf("%w: status %s", ErrNotPending, r.Status)
	}
	if r.Consumed {
		return ErrConsumed
	}
	if r.CommandHash != ComputeCommandHash(command) {
		return ErrHashMismatch
	}
	r.Consumed = true
	s.saveLocked()
	return nil
}

// CleanupExpired marks lapsed pending requests expired. Returns the count.
func (s *Store) CleanupExpired() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Status == StatusPending && !now.Before(r.ExpiresAt) {
			r.Status = StatusExpired
			n++
		}
	}
	if n > 0 {
		s.saveLocked()
		log.Debug().Int("count", n).Msg("Expired stale approvals")
	}
	return n
}

// StartCleanup runs CleanupExpired every minute until ctx is done.
func (s *Store) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired()
			}
		}
	}()
}

// ComputeCommandHash returns the hex sha256 of the command string.
func ComputeCommandHash(command string) string {
	sum := sha256.Sum256([]byte(command))
	return hex.EncodeToString(sum[:])
}

var (
	highRiskPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\s+(-\w*\s+)*-\w*[rf]`),
		regexp.MustCompile(`(?i)\bmkfs\b`),
		regexp.MustCompile(`(?i)\bdd\s+.*of=/dev/`),
		regexp.MustCompile(`(?i)\bshutdown\b|\breboot\b|\bpoweroff\b`),
		regexp.MustCompile(`(?i)qm\s+(destroy|stop)\b`),
		regexp.MustCompile(`(?i)pct\s+(destroy|stop)\b`),
		regexp.MustCompile(`(?i)\bwipefs\b|\bsgdisk\b.*--zap`),
	}
	mediumRiskPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)systemctl\s+(restart|stop)\b`),
		regexp.MustCompile(`(?i)qm\s+(reset|reboot|migrate)\b`),
		regexp.MustCompile(`(?i)pct\s+(reboot|migrate)\b`),
		regexp.MustCompile(`(?i)\bkill(all)?\b`),
		regexp.MustCompile(`(?i)\bumount\b|\bmount\b`),
		regexp.MustCompile(`>\s*/etc/`),
	}
)

// AssessRiskLevel classifies a command as low, medium, or high risk based on
// pattern matching. Unknown commands stay low; the approval flow is the
// safety net, not this heuristic.
func AssessRiskLevel(command string) string {
	for _, p := range highRiskPatterns {
		if p.MatchString(command) {
			return "high"
		}
	}
	for _, p := range mediumRiskPatterns {
		if p.MatchString(command) {
			return "medium"
		}
	}
	return "low"
}

func (r *Request) clone() *Request {
	cp := *r
	return &cp
}

type persistedState struct {
	Version  int        `json:"version"`
	Requests []*Request `json:"requests"`
}

// saveLocked writes the snapshot; caller holds the write lock.
func (s *Store) saveLocked() {
	if s.dataDir == "" {
		return
	}
	state := persistedState{Version: 1, Requests: make([]*Request, 0, len(s.requests))}
	for _, r := range s.requests {
		state.Requests = append(state.Requests, r)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal approvals")
		return
	}
	path := filepath.Join(s.dataDir, persistFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		log.Error().Err(err).Msg("Failed to write approvals snapshot")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Error().Err(err).Msg("Failed to replace approvals snapshot")
	}
}

func (s *Store) load() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, persistFile))
	if err != nil {
		return err
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse approvals snapshot: %w", err)
	}
	for _, r := range state.Requests {
		s.requests[r.ID] = r
	}
	log.Info().Int("count", len(state.Requests)).Msg("Loaded persisted approvals")
	return nil
}
