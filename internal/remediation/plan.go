// Package remediation holds the legacy remediation plan model. Plans predate
// investigation-proposed fixes; the correlation path falls back to them only
// when a finding has no approval artifact.
package remediation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PlanCategory determines how a plan may be executed.
type PlanCategory string

const (
	// CategoryInformational provides guidance only, no executable steps
	CategoryInformational PlanCategory = "informational"
	// CategoryGuided requires step-by-step operator confirmation
	CategoryGuided PlanCategory = "guided"
	// CategoryOneClick executes after a single approval
	CategoryOneClick PlanCategory = "one_click"
	// CategoryAutonomous may execute without approval (low risk only)
	CategoryAutonomous PlanCategory = "autonomous"
)

// RiskLevel indicates potential impact of executing a plan.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// PlanExpiry is how long a plan remains valid after creation.
const PlanExpiry = 24 * time.Hour

// Step is a single action within a remediation plan.
type Step struct {
	Order       int    `json:"order"`
	Description string `json:"description"`
	Command     string `json:"command,omitempty"`
	Target      string `json:"target,omitempty"`
	Rollback    string `json:"rollback,omitempty"`
	WaitAfter   int    `json:"wait_after,omitempty"` // seconds
	Condition   string `json:"condition,omitempty"`
}

// Plan is an ordered set of remediation steps for a finding.
type Plan struct {
	ID            string       `json:"id"`
	FindingID     string       `json:"finding_id"`
	ResourceID    string       `json:"resource_id"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Category      PlanCategory `json:"category"`
	RiskLevel     RiskLevel    `json:"risk_level"`
	Steps         []Step       `json:"steps"`
	Rationale     string       `json:"rationale,omitempty"`
	Prerequisites []string     `json:"prerequisites,omitempty"`
	Warnings      []string     `json:"warnings,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
}

// Expired reports whether the plan has passed its expiry.
func (p *Plan) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

var destructiveFragments = []string{
	"rm -rf", "rm -f", "mkfs", "dd if=", "destroy", "wipefs", "> /dev/",
}

// Validate checks structural requirements before a plan is accepted.
func Validate(p *Plan) error {
	if p.FindingID == "" {
		return errors.New("plan missing finding id")
	}
	if p.Title == "" {
		return errors.New("plan missing title")
	}
	if len(p.Steps) == 0 && p.Category != CategoryInformational {
		return fmt.Errorf("plan %s has no steps but category %s", p.ID, p.Category)
	}
	for i, step := range p.Steps {
		if step.Description == "" {
			return fmt.Errorf("step %d missing description", i)
		}
	}
	return nil
}

// AssessRisk infers a plan's risk from its step commands when the producer
// did not set one. Any destructive fragment forces high.
func AssessRisk(p *Plan) RiskLevel {
	if p.RiskLevel != "" {
		return p.RiskLevel
	}
	risk := RiskLow
	for _, step := range p.Steps {
		cmd := strings.ToLower(step.Command)
		if cmd == "" {
			continue
		}
		for _, frag := range destructiveFragments {
			if strings.Contains(cmd, frag) {
				return RiskHigh
			}
		}
		if strings.Contains(cmd, "restart") || strings.Contains(cmd, "stop") {
			risk = RiskMedium
		}
	}
	return risk
}
