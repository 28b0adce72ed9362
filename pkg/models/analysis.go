package models

// RequestType is the coarse category of an inbound request.
type RequestType string

const (
	RequestBugFix        RequestType = "bug_fix"
	RequestFeature       RequestType = "feature"
	RequestRefactor      RequestType = "refactor"
	RequestSecurity      RequestType = "security"
	RequestPerformance   RequestType = "performance"
	RequestTesting       RequestType = "testing"
	RequestDocumentation RequestType = "documentation"
	RequestChore         RequestType = "chore"
)

// FallbackAgentKind is recommended when no capability keyword matches.
const FallbackAgentKind = "worker"

// BreakdownItem is one proposed unit of work inside an Analysis.
type BreakdownItem struct {
	// ID is stable within one analysis ("step-1", "step-2", ...).
	ID string `json:"id" yaml:"id"`
	// AgentKind is the capability that should handle the item.
	AgentKind string `json:"agent_kind" yaml:"agent_kind"`
	// Title is the short task title.
	Title string `json:"title" yaml:"title"`
	// Description carries the instructions for the item.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Priority ranges from 1 to 10.
	Priority int `json:"priority" yaml:"priority"`
	// Dependencies lists IDs of other items in the same breakdown.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Analysis is the structured, immutable result of classifying a request.
type Analysis struct {
	Type                  RequestType     `json:"type" yaml:"type"`
	ComplexityScore       int             `json:"complexity_score" yaml:"complexity_score"`
	Priority              int             `json:"priority" yaml:"priority"`
	RecommendedAgentKinds []string        `json:"recommended_agent_kinds" yaml:"recommended_agent_kinds"`
	TaskBreakdown         []BreakdownItem `json:"task_breakdown" yaml:"task_breakdown"`
	// Confidence is a heuristic step function of the breakdown size, not a probability.
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// Scope hints.
	Files           []string `json:"files,omitempty" yaml:"files,omitempty"`
	EstimatedFiles  int      `json:"estimated_files" yaml:"estimated_files"`
	Labels          []string `json:"labels,omitempty" yaml:"labels,omitempty"`
	MatchedKeywords []string `json:"matched_keywords,omitempty" yaml:"matched_keywords,omitempty"`
}

// Tier returns the complexity tier of the analysis.
func (a Analysis) Tier() ComplexityTier {
	return TierForScore(a.ComplexityScore)
}

// ForItem derives the analysis used to decide a single breakdown item.
func (a Analysis) ForItem(item BreakdownItem) Analysis {
	derived := a
	derived.Priority = item.Priority
	derived.RecommendedAgentKinds = []string{item.AgentKind}
	derived.TaskBreakdown = []BreakdownItem{item}
	return derived
}

// Clone returns a copy that shares no slices with a.
func (a Analysis) Clone() Analysis {
	c := a
	c.RecommendedAgentKinds = append([]string(nil), a.RecommendedAgentKinds...)
	c.Files = append([]string(nil), a.Files...)
	c.Labels = append([]string(nil), a.Labels...)
	c.MatchedKeywords = append([]string(nil), a.MatchedKeywords...)
	if a.TaskBreakdown != nil {
		c.TaskBreakdown = make([]BreakdownItem, len(a.TaskBreakdown))
		for i, item := range a.TaskBreakdown {
			item.Dependencies = append([]string(nil), item.Dependencies...)
			c.TaskBreakdown[i] = item
		}
	}
	return c
}
