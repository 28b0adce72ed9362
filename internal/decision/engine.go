// Package decision turns an Analysis into a delegation Decision: whether to
// delegate, with which strategy and options, and at what estimated cost.
// Decide is pure and never fails for a well-formed Analysis.
package decision

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ShayCichocki/courier/internal/config"
	"github.com/ShayCichocki/courier/pkg/models"
)

// ManagedLabel marks every delegation created by courier.
const ManagedLabel = "courier"

// strategyLabelPrefix lets a request force a strategy, e.g. "strategy:sequential".
const strategyLabelPrefix = "strategy:"

// Origin identifies the request a decision is made for. Step, when set,
// distinguishes sibling tasks of one request in the branch name.
type Origin struct {
	ID    string
	Title string
	Step  string
}

// Engine evaluates analyses against the gate, strategy rules and tables.
type Engine struct {
	cfg    config.DecisionConfig
	tables atomic.Pointer[config.Tables]
}

// New creates a decision engine. Nil tables select the built-in defaults.
// A zero cfg selects config.Default().Decision; otherwise a non-positive
// SplitFileThreshold or BranchMaxLength takes its default alone.
func New(cfg config.DecisionConfig, tables *config.Tables) *Engine {
	def := config.Default().Decision
	if cfg.MinComplexity == 0 && cfg.SplitFileThreshold == 0 && cfg.BranchPrefix == "" &&
		cfg.BranchMaxLength == 0 && cfg.MaxRetries == 0 {
		cfg.MinComplexity = def.MinComplexity
		cfg.BranchPrefix = def.BranchPrefix
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.SplitFileThreshold <= 0 {
		cfg.SplitFileThreshold = def.SplitFileThreshold
	}
	if cfg.BranchMaxLength <= 0 {
		cfg.BranchMaxLength = def.BranchMaxLength
	}
	e := &Engine{cfg: cfg}
	e.SetTables(tables)
	return e
}

// SetTables atomically replaces the timeout and cost tables.
func (e *Engine) SetTables(tables *config.Tables) {
	if tables == nil {
		tables = config.DefaultTables()
	}
	e.tables.Store(tables)
}

// Decide evaluates a. The returned Decision always carries a Reason when
// ShouldDelegate is false.
func (e *Engine) Decide(a models.Analysis, origin Origin) models.Decision {
	if ok, reason := e.gate(a); !ok {
		return models.Decision{ShouldDelegate: false, Reason: reason}
	}

	tables := e.tables.Load()
	tier := a.Tier()
	strategy := e.strategy(a)

	retry := tier == models.TierSimple
	maxRetries := 0
	if retry {
		maxRetries = e.cfg.MaxRetries
	}

	opts := models.DelegationOptions{
		Branch:         Branch(e.cfg.BranchPrefix, origin, e.cfg.BranchMaxLength),
		Labels:         []string{ManagedLabel, "type:" + string(a.Type), strategyLabelPrefix + string(strategy)},
		AutoMerge:      false,
		Priority:       models.PriorityForScore(a.Priority),
		TimeoutMs:      tables.Timeouts.For(tier).Milliseconds(),
		CreatePR:       true,
		Reviewers:      append([]string(nil), e.cfg.Reviewers...),
		RetryOnFailure: retry,
		MaxRetries:     maxRetries,
	}

	return models.Decision{
		ShouldDelegate: true,
		Executor:       e.executor(a),
		Strategy:       strategy,
		Options:        opts,
		EstimatedCost:  EstimateCost(tables.Costs, a),
	}
}

// gate applies the deny list, then the allow list, then the complexity
// threshold with the top-priority override.
func (e *Engine) gate(a models.Analysis) (bool, string) {
	for _, label := range a.Labels {
		if containsFold(e.cfg.DenyLabels, label) {
			return false, fmt.Sprintf("label %q is deny-listed", label)
		}
	}
	for _, label := range a.Labels {
		if containsFold(e.cfg.AllowLabels, label) {
			return true, ""
		}
	}
	if a.ComplexityScore >= e.cfg.MinComplexity {
		return true, ""
	}
	if a.Priority >= models.TopPriority {
		return true, ""
	}
	return false, fmt.Sprintf("complexity %d is below the delegation minimum %d", a.ComplexityScore, e.cfg.MinComplexity)
}

// executor is single-valued today; local execution is not supported.
func (e *Engine) executor(models.Analysis) string {
	return models.ExecutorRemote
}

// strategy returns the first matching rule, unless a label forces one.
func (e *Engine) strategy(a models.Analysis) models.Strategy {
	for _, label := range a.Labels {
		if forced, ok := strings.CutPrefix(strings.ToLower(label), strategyLabelPrefix); ok {
			if s := models.Strategy(forced); s.Valid() {
				return s
			}
		}
	}

	tier := a.Tier()
	switch {
	case a.Type == models.RequestBugFix && a.Priority >= models.TopPriority:
		return models.StrategyDirect
	case a.Type == models.RequestFeature && tier == models.TierComplex:
		return models.StrategyReviewFirst
	case tier == models.TierComplex && a.EstimatedFiles > e.cfg.SplitFileThreshold:
		return models.StrategySplit
	case tier == models.TierModerate && a.EstimatedFiles > 1:
		return models.StrategyParallel
	default:
		return models.StrategyDirect
	}
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
