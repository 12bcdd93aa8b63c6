package findings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Persistence stores finding snapshots across restarts.
type Persistence interface {
	Save(findings []*UnifiedFinding) error
	Load() ([]*UnifiedFinding, error)
}

const (
	persistedFileName = "unified_findings.json"
	persistedVersion  = 1
)

type persistedState struct {
	Version  int               `json:"version"`
	Findings []*UnifiedFinding `json:"findings"`
}

// FilePersistence writes versioned JSON snapshots with an atomic rename so a
// crash mid-write never truncates the previous snapshot.
type FilePersistence struct {
	path string
}

// NewFilePersistence persists under dataDir.
func NewFilePersistence(dataDir string) *FilePersistence {
	return &FilePersistence{path: filepath.Join(dataDir, persistedFileName)}
}

func (p *FilePersistence) Save(findings []*UnifiedFinding) error {
	state := persistedState{Version: persistedVersion, Findings: findings}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write findings snapshot: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("replace findings snapshot: %w", err)
	}
	return nil
}

func (p *FilePersistence) Load() ([]*UnifiedFinding, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read findings snapshot: %w", err)
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err == nil && state.Version > 0 {
		return state.Findings, nil
	}
	// Pre-versioning snapshots were a bare array.
	var legacy []*UnifiedFinding
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("parse findings snapshot: %w", err)
	}
	log.Info().Str("path", p.path).Msg("Migrating legacy findings snapshot")
	return legacy, nil
}
