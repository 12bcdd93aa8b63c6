package findings

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RawAlert is a threshold alert record as delivered by the alert feed.
type RawAlert struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"` // cpu, memory, disk, temperature, ...
	Level        string    `json:"level"`
	ResourceID   string    `json:"resourceId"`
	ResourceName string    `json:"resourceName"`
	Node         string    `json:"node,omitempty"`
	Message      string    `json:"message,omitempty"`
	Value        float64   `json:"value"`
	Threshold    float64   `json:"threshold"`
	StartTime    time.Time `json:"startTime"`
}

// RawAIFinding is a patrol/anomaly/chat finding record from the AI feed.
type RawAIFinding struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"` // ai-patrol, anomaly, ai-chat, correlation, forecast
	Severity       string    `json:"severity"`
	Category       string    `json:"category,omitempty"`
	ResourceID     string    `json:"resource_id"`
	ResourceName   string    `json:"resource_name"`
	ResourceType   string    `json:"resource_type,omitempty"`
	Node           string    `json:"node,omitempty"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Recommendation string    `json:"recommendation,omitempty"`
	Evidence       string    `json:"evidence,omitempty"`
	Confidence     float64   `json:"confidence,omitempty"`
	DetectedAt     time.Time `json:"detected_at"`
}

// NormalizerConfig controls alert to finding conversion.
type NormalizerConfig struct {
	// DefaultCategory is used when the alert type has no mapping.
	DefaultCategory Category
	// TypeCategoryMap maps alert types to categories.
	TypeCategoryMap map[string]Category
}

// DefaultNormalizerConfig covers the standard alert types.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		DefaultCategory: CategoryGeneral,
		TypeCategoryMap: map[string]Category{
			"cpu":              CategoryPerformance,
			"memory":           CategoryPerformance,
			"disk":             CategoryCapacity,
			"diskRead":         CategoryPerformance,
			"diskWrite":        CategoryPerformance,
			"networkIn":        CategoryConnectivity,
			"networkOut":       CategoryConnectivity,
			"temperature":      CategoryReliability,
			"usage":            CategoryCapacity,
			"offline":          CategoryReliability,
			"backup":           CategoryBackup,
			"connectivity":     CategoryConnectivity,
			"poolDegraded":     CategoryReliability,
			"snapshotFailure":  CategoryBackup,
			"certificate":      CategorySecurity,
			"updatesAvailable": CategoryConfiguration,
		},
	}
}

// Normalizer converts raw feed records into UnifiedFindings. Stateless: it
// never touches the store, so it is safe to call from any goroutine.
type Normalizer struct {
	cfg NormalizerConfig
}

// NewNormalizer creates a normalizer with the given config. Zero-value
// config fields fall back to defaults.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	def := DefaultNormalizerConfig()
	if cfg.DefaultCategory == "" {
		cfg.DefaultCategory = def.DefaultCategory
	}
	if cfg.TypeCategoryMap == nil {
		cfg.TypeCategoryMap = def.TypeCategoryMap
	}
	return &Normalizer{cfg: cfg}
}

// NormalizeAlerts converts a batch of threshold alerts. Malformed records
// are logged and skipped; the batch never aborts.
func (n *Normalizer) NormalizeAlerts(alerts []RawAlert) []*UnifiedFinding {
	out := make([]*UnifiedFinding, 0, len(alerts))
	for i := range alerts {
		f, err := n.ConvertAlert(&alerts[i])
		if err != nil {
			log.Warn().Err(err).Str("alertID", alerts[i].ID).Msg("Skipping malformed alert record")
			droppedRecords("alert")
			continue
		}
		out = append(out, f)
	}
	return out
}

// ConvertAlert maps one threshold alert to a finding.
func (n *Normalizer) ConvertAlert(a *RawAlert) (*UnifiedFinding, error) {
	if a.ID == "" {
		return nil, fmt.Errorf("alert missing id")
	}
	if a.ResourceID == "" {
		return nil, fmt.Errorf("alert %s missing resource id", a.ID)
	}
	if a.StartTime.IsZero() {
		return nil, fmt.Errorf("alert %s missing start time", a.ID)
	}

	severity := SeverityWarning
	if strings.EqualFold(a.Level, "critical") {
		severity = SeverityCritical
	}
	category, ok := n.cfg.TypeCategoryMap[a.Type]
	if !ok {
		category = n.cfg.DefaultCategory
	}
	name := a.ResourceName
	if name == "" {
		name = a.ResourceID
	}

	f := &UnifiedFinding{
		ID:           alertFindingID(a.ID),
		Source:       SourceThreshold,
		Severity:     severity,
		Category:     category,
		ResourceID:   a.ResourceID,
		ResourceName: name,
		ResourceType: deriveResourceType(a.ResourceID),
		Node:         a.Node,
		Title:        alertTitle(a, name),
		Description:  a.Message,
		AlertID:      a.ID,
		AlertType:    a.Type,
		Value:        a.Value,
		Threshold:    a.Threshold,
		IsThreshold:  true,
		DetectedAt:   a.StartTime,
		LastSeenAt:   time.Now(),
		TimesRaised:  1,
	}
	f.appendEvent(EventCreated, f.DetectedAt, "", StatusActive, "threshold alert "+a.Type)
	return f, nil
}

// NormalizeAIFindings converts a batch of AI records. Same log-and-skip
// contract as NormalizeAlerts.
func (n *Normalizer) NormalizeAIFindings(records []RawAIFinding) []*UnifiedFinding {
	out := make([]*UnifiedFinding, 0, len(records))
	for i := range records {
		f, err := n.ConvertAIFinding(&records[i])
		if err != nil {
			log.Warn().Err(err).Str("findingID", records[i].ID).Msg("Skipping malformed AI finding record")
			droppedRecords("ai")
			continue
		}
		out = append(out, f)
	}
	return out
}

// ConvertAIFinding maps one AI record to a finding. Unknown severities and
// sources are kept as-is; ranking places them after the known values.
func (n *Normalizer) ConvertAIFinding(r *RawAIFinding) (*UnifiedFinding, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("ai finding missing id")
	}
	if r.ResourceID == "" {
		return nil, fmt.Errorf("ai finding %s missing resource id", r.ID)
	}
	if r.Title == "" {
		return nil, fmt.Errorf("ai finding %s missing title", r.ID)
	}
	if r.Severity == "" {
		return nil, fmt.Errorf("ai finding %s missing severity", r.ID)
	}
	if r.DetectedAt.IsZero() {
		return nil, fmt.Errorf("ai finding %s missing detection time", r.ID)
	}

	source := Source(r.Source)
	if source == "" {
		source = SourceAIPatrol
	}
	if !knownSources[source] {
		log.Debug().Str("source", r.Source).Str("findingID", r.ID).Msg("Unknown finding source")
	}
	category := Category(r.Category)
	if category == "" {
		category = n.cfg.DefaultCategory
	}
	resType := r.ResourceType
	if resType == "" {
		resType = deriveResourceType(r.ResourceID)
	}
	name := r.ResourceName
	if name == "" {
		name = r.ResourceID
	}

	f := &UnifiedFinding{
		ID:             r.ID,
		Source:         source,
		Severity:       Severity(r.Severity),
		Category:       category,
		ResourceID:     r.ResourceID,
		ResourceName:   name,
		ResourceType:   resType,
		Node:           r.Node,
		Title:          r.Title,
		Description:    r.Description,
		Recommendation: r.Recommendation,
		Evidence:       r.Evidence,
		AIConfidence:   r.Confidence,
		DetectedAt:     r.DetectedAt,
		LastSeenAt:     time.Now(),
		TimesRaised:    1,
	}
	f.appendEvent(EventCreated, f.DetectedAt, "", StatusActive, string(source)+" analysis")
	return f, nil
}

// alertFindingID derives a stable finding id from the alert id, so repeated
// conversions of the same alert merge instead of duplicating.
func alertFindingID(alertID string) string {
	return "alert-" + alertID
}

func alertTitle(a *RawAlert, name string) string {
	if a.Message != "" {
		return a.Message
	}
	if a.Threshold > 0 {
		return fmt.Sprintf("%s %s at %.1f%% (threshold %.1f%%)", name, a.Type, a.Value, a.Threshold)
	}
	return fmt.Sprintf("%s %s alert", name, a.Type)
}

// deriveResourceType guesses a resource type from the id shape used by the
// monitored cluster: "node/kind-vmid" or bare node names.
func deriveResourceType(resourceID string) string {
	lower := strings.ToLower(resourceID)
	switch {
	case strings.Contains(lower, "qemu") || strings.Contains(lower, "vm-"):
		return "vm"
	case strings.Contains(lower, "lxc") || strings.Contains(lower, "ct-"):
		return "container"
	case strings.Contains(lower, "storage") || strings.Contains(lower, "pool"):
		return "storage"
	case strings.Contains(lower, "docker"):
		return "dockerContainer"
	case strings.Contains(lower, "pbs"):
		return "pbs"
	case strings.Contains(lower, "/"):
		return "guest"
	default:
		return "node"
	}
}
