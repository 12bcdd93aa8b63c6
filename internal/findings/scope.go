package findings

import (
	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
)

// Scope is an operator-selected resource subset. Entries may be exact values
// or glob patterns ("vm-*", "node/*").
type Scope struct {
	ResourceIDs   []string
	ResourceTypes []string
}

// Empty reports whether no scope is selected.
func (s Scope) Empty() bool {
	return len(s.ResourceIDs) == 0 && len(s.ResourceTypes) == 0
}

// OutOfScope reports whether the finding falls outside the scope: scope is
// non-empty and neither its resource id nor its resource type matches.
// Advisory only; callers annotate, never filter.
func (s Scope) OutOfScope(f *UnifiedFinding) bool {
	if s.Empty() {
		return false
	}
	for _, pat := range s.ResourceIDs {
		if wildcard.Match(pat, f.ResourceID) {
			return false
		}
	}
	for _, pat := range s.ResourceTypes {
		if wildcard.Match(pat, f.ResourceType) {
			return false
		}
	}
	return true
}

// Annotate returns the out_of_scope flag per finding id. The result always
// covers exactly the input set.
func (s Scope) Annotate(fs []*UnifiedFinding) map[string]bool {
	out := make(map[string]bool, len(fs))
	for _, f := range fs {
		out[f.ID] = s.OutOfScope(f)
	}
	return out
}
