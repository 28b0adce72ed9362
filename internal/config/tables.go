package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/courier/pkg/models"
)

// KeywordBucket adds Delta to the complexity score when any keyword matches.
type KeywordBucket struct {
	Delta    int      `yaml:"delta"`
	Keywords []string `yaml:"keywords"`
}

// ComplexityTable drives complexity scoring.
type ComplexityTable struct {
	Base int `yaml:"base"`
	// Buckets are evaluated high, medium, low; the first match wins.
	High   KeywordBucket `yaml:"high"`
	Medium KeywordBucket `yaml:"medium"`
	Low    KeywordBucket `yaml:"low"`
	// LongDescriptionThreshold is in characters.
	LongDescriptionThreshold int `yaml:"long_description_threshold"`
	LongDescriptionBonus     int `yaml:"long_description_bonus"`
}

// TypeRule maps keywords onto a request type. Rules are evaluated in order.
type TypeRule struct {
	Type     models.RequestType `yaml:"type"`
	Keywords []string           `yaml:"keywords"`
}

// Capability describes one agent kind the remote agent can be asked to act as.
type Capability struct {
	Kind          string   `yaml:"kind"`
	Description   string   `yaml:"description"`
	Keywords      []string `yaml:"keywords"`
	MaxComplexity int      `yaml:"max_complexity"`
}

// TimeoutTable is keyed by complexity tier.
type TimeoutTable struct {
	Simple   time.Duration `yaml:"simple"`
	Moderate time.Duration `yaml:"moderate"`
	Complex  time.Duration `yaml:"complex"`
}

// For returns the timeout for a tier.
func (t TimeoutTable) For(tier models.ComplexityTier) time.Duration {
	switch tier {
	case models.TierComplex:
		return t.Complex
	case models.TierModerate:
		return t.Moderate
	default:
		return t.Simple
	}
}

// CostTable drives the operator-facing cost estimate.
type CostTable struct {
	TierBase         map[models.ComplexityTier]float64 `yaml:"tier_base"`
	TypeMultiplier   map[models.RequestType]float64    `yaml:"type_multiplier"`
	UrgentMultiplier float64                           `yaml:"urgent_multiplier"`
}

// Tables holds the lookup tables used by classification and decisions.
// A Tables value is treated as immutable once published.
type Tables struct {
	Complexity       ComplexityTable `yaml:"complexity"`
	RequestTypes     []TypeRule      `yaml:"request_types"`
	Capabilities     []Capability    `yaml:"capabilities"`
	UrgencyKeywords  []string        `yaml:"urgency_keywords"`
	CriticalKeywords []string        `yaml:"critical_keywords"`
	Timeouts         TimeoutTable    `yaml:"timeouts"`
	Costs            CostTable       `yaml:"costs"`
}

// LoadTables reads a YAML table file. Sections absent from the file keep
// their built-in defaults.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tables %s: %w", path, err)
	}
	return ParseTables(data)
}

// ParseTables decodes YAML table content over the built-in defaults.
func ParseTables(data []byte) (*Tables, error) {
	t := DefaultTables()
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parsing tables: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate rejects tables that would make classification meaningless.
func (t *Tables) Validate() error {
	if t.Complexity.Base < 1 || t.Complexity.Base > 10 {
		return fmt.Errorf("complexity.base must be within 1..10, got %d", t.Complexity.Base)
	}
	seen := make(map[string]bool, len(t.Capabilities))
	for i, c := range t.Capabilities {
		if c.Kind == "" {
			return fmt.Errorf("capabilities[%d]: kind is required", i)
		}
		if seen[c.Kind] {
			return fmt.Errorf("capabilities[%d]: duplicate kind %q", i, c.Kind)
		}
		seen[c.Kind] = true
	}
	for i, r := range t.RequestTypes {
		if r.Type == "" {
			return fmt.Errorf("request_types[%d]: type is required", i)
		}
	}
	if t.Timeouts.Simple <= 0 || t.Timeouts.Moderate <= 0 || t.Timeouts.Complex <= 0 {
		return fmt.Errorf("timeouts must all be positive")
	}
	return nil
}

// Marshal renders the tables as YAML.
func (t *Tables) Marshal() ([]byte, error) {
	return yaml.Marshal(t)
}

// DefaultTables returns the built-in lookup tables.
func DefaultTables() *Tables {
	return &Tables{
		Complexity: ComplexityTable{
			Base: 3,
			High: KeywordBucket{Delta: 4, Keywords: []string{
				"architecture", "redesign", "rewrite", "migrate", "migration",
				"distributed", "overhaul", "breaking change", "multiple services",
			}},
			Medium: KeywordBucket{Delta: 2, Keywords: []string{
				"refactor", "integrate", "integration", "api", "database",
				"endpoint", "implement", "optimize", "feature",
			}},
			Low: KeywordBucket{Delta: -1, Keywords: []string{
				"typo", "rename", "minor", "small", "simple", "bump", "comment", "wording",
			}},
			LongDescriptionThreshold: 500,
			LongDescriptionBonus:     1,
		},
		RequestTypes: []TypeRule{
			{Type: models.RequestSecurity, Keywords: []string{"security", "vulnerability", "cve", "xss", "csrf", "injection", "exploit"}},
			{Type: models.RequestBugFix, Keywords: []string{"bug", "fix", "crash", "broken", "regression", "error", "exception"}},
			{Type: models.RequestPerformance, Keywords: []string{"performance", "slow", "latency", "memory leak", "speed up", "optimize"}},
			{Type: models.RequestRefactor, Keywords: []string{"refactor", "clean up", "cleanup", "restructure", "tech debt"}},
			{Type: models.RequestTesting, Keywords: []string{"test", "coverage", "flaky"}},
			{Type: models.RequestDocumentation, Keywords: []string{"documentation", "docs", "readme", "guide"}},
			{Type: models.RequestFeature, Keywords: []string{"add", "feature", "implement", "support", "new", "create", "build"}},
		},
		Capabilities: []Capability{
			{Kind: "backend", Description: "server-side code, APIs and data access", MaxComplexity: 10,
				Keywords: []string{"api", "backend", "server", "database", "endpoint", "sql", "service"}},
			{Kind: "frontend", Description: "user interface and client code", MaxComplexity: 8,
				Keywords: []string{"frontend", "ui", "css", "react", "component", "page", "button", "layout"}},
			{Kind: "security", Description: "vulnerability remediation and hardening", MaxComplexity: 10,
				Keywords: []string{"security", "vulnerability", "auth", "permission", "xss", "csrf", "cve"}},
			{Kind: "performance", Description: "profiling and optimization", MaxComplexity: 10,
				Keywords: []string{"performance", "slow", "latency", "cache", "optimize"}},
			{Kind: "devops", Description: "build, deploy and infrastructure", MaxComplexity: 8,
				Keywords: []string{"deploy", "pipeline", "docker", "kubernetes", "ci/cd", "infrastructure", "terraform"}},
			{Kind: "testing", Description: "automated tests and coverage", MaxComplexity: 6,
				Keywords: []string{"test", "coverage", "flaky"}},
			{Kind: "documentation", Description: "docs, guides and READMEs", MaxComplexity: 4,
				Keywords: []string{"documentation", "docs", "readme", "guide"}},
		},
		UrgencyKeywords:  []string{"urgent", "critical", "asap"},
		CriticalKeywords: []string{"critical"},
		Timeouts: TimeoutTable{
			Simple:   30 * time.Minute,
			Moderate: 60 * time.Minute,
			Complex:  120 * time.Minute,
		},
		Costs: CostTable{
			TierBase: map[models.ComplexityTier]float64{
				models.TierSimple:   1,
				models.TierModerate: 3,
				models.TierComplex:  8,
			},
			TypeMultiplier: map[models.RequestType]float64{
				models.RequestBugFix:        1.0,
				models.RequestFeature:       1.5,
				models.RequestRefactor:      1.3,
				models.RequestSecurity:      1.5,
				models.RequestPerformance:   1.3,
				models.RequestTesting:       0.8,
				models.RequestDocumentation: 0.5,
				models.RequestChore:         0.7,
			},
			UrgentMultiplier: 1.5,
		},
	}
}
