package models

// Strategy is the delegation pattern chosen for a task set.
type Strategy string

const (
	StrategyDirect      Strategy = "direct"
	StrategySplit       Strategy = "split"
	StrategyParallel    Strategy = "parallel"
	StrategySequential  Strategy = "sequential"
	StrategyReviewFirst Strategy = "review_first"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyDirect, StrategySplit, StrategyParallel, StrategySequential, StrategyReviewFirst:
		return true
	default:
		return false
	}
}

// ExecutorRemote is the only executor today: the remote execution agent.
const ExecutorRemote = "remote"

// DelegationOptions are sent with every submission to the remote agent.
type DelegationOptions struct {
	Branch         string        `json:"branch" yaml:"branch"`
	Labels         []string      `json:"labels,omitempty" yaml:"labels,omitempty"`
	AutoMerge      bool          `json:"auto_merge" yaml:"auto_merge"`
	Priority       PriorityLevel `json:"priority" yaml:"priority"`
	TimeoutMs      int64         `json:"timeout_ms" yaml:"timeout_ms"`
	CreatePR       bool          `json:"create_pr" yaml:"create_pr"`
	Reviewers      []string      `json:"reviewers,omitempty" yaml:"reviewers,omitempty"`
	RetryOnFailure bool          `json:"retry_on_failure" yaml:"retry_on_failure"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
}

// Clone returns a copy that shares no slices with o.
func (o DelegationOptions) Clone() DelegationOptions {
	c := o
	c.Labels = append([]string(nil), o.Labels...)
	c.Reviewers = append([]string(nil), o.Reviewers...)
	return c
}

// Decision is the outcome of evaluating an Analysis.
type Decision struct {
	ShouldDelegate bool              `json:"should_delegate" yaml:"should_delegate"`
	Executor       string            `json:"executor" yaml:"executor"`
	Strategy       Strategy          `json:"strategy" yaml:"strategy"`
	Options        DelegationOptions `json:"options" yaml:"options"`
	// EstimatedCost is in abstract budget units, for operators only.
	EstimatedCost int `json:"estimated_cost" yaml:"estimated_cost"`
	// Reason is always non-empty when ShouldDelegate is false.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}
