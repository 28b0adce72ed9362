package decision

import (
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/courier/internal/config"
	"github.com/ShayCichocki/courier/pkg/models"
)

func newTestEngine() *Engine {
	cfg := config.Default().Decision
	cfg.DenyLabels = []string{"wontfix"}
	cfg.AllowLabels = []string{"delegate-me"}
	cfg.Reviewers = []string{"alice"}
	return New(cfg, nil)
}

func analysis(t models.RequestType, score, priority, files int, labels ...string) models.Analysis {
	return models.Analysis{
		Type:                  t,
		ComplexityScore:       score,
		Priority:              priority,
		RecommendedAgentKinds: []string{"backend"},
		EstimatedFiles:        files,
		Labels:                labels,
	}
}

var origin = Origin{ID: "ENG-42", Title: "Fix login redirect loop"}

func TestNew_ZeroConfigUsesDefaults(t *testing.T) {
	e := New(config.DecisionConfig{}, nil)
	if e.cfg.MinComplexity != 3 || e.cfg.SplitFileThreshold != 5 || e.cfg.BranchPrefix != "courier" ||
		e.cfg.BranchMaxLength != 40 || e.cfg.MaxRetries != 2 {
		t.Errorf("cfg = %+v, want defaults", e.cfg)
	}

	d := e.Decide(analysis(models.RequestChore, 3, 5, 1), origin)
	if !d.ShouldDelegate {
		t.Fatalf("Decide() declined: %s", d.Reason)
	}
	if d.Options.Branch != "courier/eng-42-fix-login-redirect-loop" {
		t.Errorf("Branch = %q", d.Options.Branch)
	}

	e = New(config.DecisionConfig{MinComplexity: 1, BranchMaxLength: -1}, nil)
	if e.cfg.BranchMaxLength != 40 || e.cfg.SplitFileThreshold != 5 {
		t.Errorf("cfg = %+v, want non-positive bounds defaulted", e.cfg)
	}
	if e.cfg.MinComplexity != 1 || e.cfg.BranchPrefix != "" {
		t.Errorf("cfg = %+v, want explicit fields kept", e.cfg)
	}
}

func TestDecide_Gate(t *testing.T) {
	tests := []struct {
		name     string
		analysis models.Analysis
		want     bool
		reason   string
	}{
		{"deny label wins over everything", analysis(models.RequestBugFix, 9, 10, 1, "WontFix", "delegate-me"), false, "deny-listed"},
		{"allow label skips threshold", analysis(models.RequestChore, 1, 1, 1, "delegate-me"), true, ""},
		{"below minimum", analysis(models.RequestChore, 2, 5, 1), false, "below the delegation minimum"},
		{"at minimum", analysis(models.RequestChore, 3, 5, 1), true, ""},
		{"top priority overrides complexity", analysis(models.RequestBugFix, 1, 9, 1), true, ""},
		{"just below top priority", analysis(models.RequestBugFix, 1, 8, 1), false, "below the delegation minimum"},
	}

	e := newTestEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Decide(tt.analysis, origin)
			if d.ShouldDelegate != tt.want {
				t.Fatalf("ShouldDelegate = %v, want %v (reason %q)", d.ShouldDelegate, tt.want, d.Reason)
			}
			if !tt.want && !strings.Contains(d.Reason, tt.reason) {
				t.Errorf("Reason = %q, want it to contain %q", d.Reason, tt.reason)
			}
		})
	}
}

func TestDecide_ReasonAlwaysSetWhenDeclined(t *testing.T) {
	e := newTestEngine()
	labelSets := [][]string{nil, {"wontfix"}, {"delegate-me"}, {"other"}}
	types := []models.RequestType{models.RequestBugFix, models.RequestFeature, models.RequestChore}

	for score := 1; score <= 10; score++ {
		for priority := 1; priority <= 10; priority++ {
			for _, labels := range labelSets {
				for _, typ := range types {
					d := e.Decide(analysis(typ, score, priority, 3, labels...), origin)
					if !d.ShouldDelegate && d.Reason == "" {
						t.Fatalf("declined without reason: score=%d priority=%d labels=%v type=%s", score, priority, labels, typ)
					}
					if d.ShouldDelegate && d.Executor != models.ExecutorRemote {
						t.Fatalf("Executor = %q, want remote", d.Executor)
					}
				}
			}
		}
	}
}

func TestDecide_Strategy(t *testing.T) {
	tests := []struct {
		name     string
		analysis models.Analysis
		want     models.Strategy
	}{
		{"top priority bug fix is direct", analysis(models.RequestBugFix, 8, 9, 10), models.StrategyDirect},
		{"complex feature is review first", analysis(models.RequestFeature, 8, 5, 10), models.StrategyReviewFirst},
		{"complex wide refactor splits", analysis(models.RequestRefactor, 8, 5, 6), models.StrategySplit},
		{"complex narrow refactor is direct", analysis(models.RequestRefactor, 8, 5, 5), models.StrategyDirect},
		{"moderate multi-file is parallel", analysis(models.RequestRefactor, 5, 5, 2), models.StrategyParallel},
		{"moderate single file is direct", analysis(models.RequestRefactor, 5, 5, 1), models.StrategyDirect},
		{"simple multi-file is direct", analysis(models.RequestChore, 3, 5, 4), models.StrategyDirect},
		{"label forces sequential", analysis(models.RequestRefactor, 8, 5, 10, "strategy:sequential"), models.StrategySequential},
		{"unknown forced strategy ignored", analysis(models.RequestRefactor, 8, 5, 10, "strategy:yolo"), models.StrategySplit},
	}

	e := newTestEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Decide(tt.analysis, origin)
			if d.Strategy != tt.want {
				t.Errorf("Strategy = %q, want %q", d.Strategy, tt.want)
			}
		})
	}
}

func TestDecide_Options(t *testing.T) {
	e := newTestEngine()

	t.Run("simple tier retries", func(t *testing.T) {
		d := e.Decide(analysis(models.RequestBugFix, 3, 5, 1), origin)
		o := d.Options
		if o.AutoMerge {
			t.Error("AutoMerge must always be false")
		}
		if !o.CreatePR {
			t.Error("CreatePR should default to true")
		}
		if !o.RetryOnFailure || o.MaxRetries != 2 {
			t.Errorf("retry = %v/%d, want true/2", o.RetryOnFailure, o.MaxRetries)
		}
		if o.TimeoutMs != 30*60*1000 {
			t.Errorf("TimeoutMs = %d, want 30m", o.TimeoutMs)
		}
		if o.Priority != models.PriorityMedium {
			t.Errorf("Priority = %q, want medium", o.Priority)
		}
		want := []string{"courier", "type:bug_fix", "strategy:direct"}
		if strings.Join(o.Labels, ",") != strings.Join(want, ",") {
			t.Errorf("Labels = %v, want %v", o.Labels, want)
		}
		if len(o.Reviewers) != 1 || o.Reviewers[0] != "alice" {
			t.Errorf("Reviewers = %v", o.Reviewers)
		}
		if o.Branch != "courier/eng-42-fix-login-redirect-loop" {
			t.Errorf("Branch = %q", o.Branch)
		}
	})

	t.Run("complex tier never retries", func(t *testing.T) {
		d := e.Decide(analysis(models.RequestFeature, 9, 10, 12), origin)
		o := d.Options
		if o.AutoMerge {
			t.Error("AutoMerge must always be false")
		}
		if o.RetryOnFailure || o.MaxRetries != 0 {
			t.Errorf("retry = %v/%d, want false/0", o.RetryOnFailure, o.MaxRetries)
		}
		if o.TimeoutMs != 120*60*1000 {
			t.Errorf("TimeoutMs = %d, want 120m", o.TimeoutMs)
		}
		if o.Priority != models.PriorityUrgent {
			t.Errorf("Priority = %q, want urgent", o.Priority)
		}
	})

	t.Run("moderate tier", func(t *testing.T) {
		d := e.Decide(analysis(models.RequestRefactor, 5, 7, 1), origin)
		if d.Options.TimeoutMs != 60*60*1000 {
			t.Errorf("TimeoutMs = %d, want 60m", d.Options.TimeoutMs)
		}
		if d.Options.RetryOnFailure {
			t.Error("moderate tier should not retry")
		}
		if d.Options.Priority != models.PriorityHigh {
			t.Errorf("Priority = %q, want high", d.Options.Priority)
		}
	})
}

func TestDecide_SetTables(t *testing.T) {
	e := newTestEngine()
	tables := config.DefaultTables()
	tables.Timeouts.Simple = 5 * time.Minute
	e.SetTables(tables)

	d := e.Decide(analysis(models.RequestChore, 3, 5, 1), origin)
	if d.Options.TimeoutMs != 5*60*1000 {
		t.Errorf("TimeoutMs = %d, want 5m after table swap", d.Options.TimeoutMs)
	}
}

func TestEstimateCost(t *testing.T) {
	costs := config.DefaultTables().Costs
	tests := []struct {
		name     string
		analysis models.Analysis
		want     int
	}{
		{"complex urgent feature", analysis(models.RequestFeature, 8, 9, 1), 18},
		{"complex feature", analysis(models.RequestFeature, 8, 5, 1), 12},
		{"moderate refactor rounds up", analysis(models.RequestRefactor, 5, 5, 1), 4},
		{"simple docs rounds half up", analysis(models.RequestDocumentation, 2, 5, 1), 1},
		{"simple bug", analysis(models.RequestBugFix, 1, 5, 1), 1},
		{"unknown type uses multiplier 1", analysis(models.RequestType("mystery"), 5, 5, 1), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateCost(costs, tt.analysis); got != tt.want {
				t.Errorf("EstimateCost() = %d, want %d", got, tt.want)
			}
		})
	}
}
