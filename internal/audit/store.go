// Package audit records operator actions in a local sqlite database so that
// who-did-what survives restarts independently of the findings snapshot.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Entry is one recorded operator action.
type Entry struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	FindingID string    `json:"finding_id"`
	Detail    string    `json:"detail,omitempty"`
	Result    string    `json:"result"` // success, failure, rejected
}

// Store writes audit entries to sqlite. Writes are buffered and flushed by a
// background worker so the action path never blocks on disk.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	pending []Entry
	entropy *ulid.MonotonicEntropy

	flushCh chan struct{}
	done    chan struct{}
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	at INTEGER NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	finding_id TEXT NOT NULL,
	detail TEXT,
	result TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_finding ON audit_log(finding_id, at);
CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_log(at);
`

// Open creates or opens the audit database under dataDir and starts the
// flush worker.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "audit.db")
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// modernc sqlite is single-writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}

	s := &Store{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		flushCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.worker()
	log.Info().Str("path", path).Msg("Audit log opened")
	return s, nil
}

// Record buffers one entry. The id is assigned here; flushing is async.
func (s *Store) Record(actor, action, findingID, detail, result string) {
	now := time.Now()
	s.mu.Lock()
	e := Entry{
		ID:        ulid.MustNew(ulid.Timestamp(now), s.entropy).String(),
		At:        now,
		Actor:     actor,
		Action:    action,
		FindingID: findingID,
		Detail:    detail,
		Result:    result,
	}
	s.pending = append(s.pending, e)
	s.mu.Unlock()

	select {
	case s.flushCh <- struct{}{}:
	default:
	}
}

func (s *Store) worker() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			s.flush()
			return
		case <-s.flushCh:
			s.flush()
		case <-ticker.C:
			s.flush()
		}
	}
}

func (s *Store) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		log.Error().Err(err).Msg("Audit flush failed to begin")
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO audit_log (id, at, actor, action, finding_id, detail, result) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		log.Error().Err(err).Msg("Audit flush failed to prepare")
		return
	}
	for _, e := range batch {
		if _, err := stmt.Exec(e.ID, e.At.UnixMilli(), e.Actor, e.Action, e.FindingID, e.Detail, e.Result); err != nil {
			log.Error().Err(err).Str("entryID", e.ID).Msg("Audit insert failed")
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("Audit flush commit failed")
	}
}

// ForFinding returns entries for one finding, newest first, up to limit.
func (s *Store) ForFinding(ctx context.Context, findingID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, actor, action, finding_id, detail, result FROM audit_log WHERE finding_id = ? ORDER BY at DESC LIMIT ?`,
		findingID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Recent returns the newest entries across all findings.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, actor, action, finding_id, detail, result FROM audit_log ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var at int64
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &at, &e.Actor, &e.Action, &e.FindingID, &detail, &e.Result); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at)
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	close(s.done)
	// Give the worker a moment to drain; a final flush covers the rest.
	time.Sleep(50 * time.Millisecond)
	s.flush()
	return s.db.Close()
}
