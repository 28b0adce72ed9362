package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/courier/internal/classify"
	"github.com/ShayCichocki/courier/internal/decision"
	"github.com/ShayCichocki/courier/pkg/models"
)

var (
	classifyTitle    string
	classifyOrigin   string
	classifyLabels   []string
	classifyPriority string
	classifyYAML     bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify [text]",
	Short: "Classify a request and show the delegation decision",
	Long: `Run the classifier and decision engine on a request without creating
a session or contacting the remote agent.

Shows the analysis, the request-level decision and the decision for each
breakdown item, using the configured tables.

Examples:
  courier classify "Add API endpoint for user export"
  courier classify --title "Login broken" --label bug --priority urgent "Users see a 500"
  courier classify --yaml "Refactor the billing service"`,
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringVar(&classifyTitle, "title", "", "Request title")
	classifyCmd.Flags().StringVar(&classifyOrigin, "origin", "CLI-1", "Origin id used for branch names")
	classifyCmd.Flags().StringSliceVar(&classifyLabels, "label", nil, "Issue label (repeatable)")
	classifyCmd.Flags().StringVar(&classifyPriority, "priority", "", "Issue priority (urgent, high, medium, low or 1-10)")
	classifyCmd.Flags().BoolVar(&classifyYAML, "yaml", false, "Print YAML instead of a summary")
}

// itemDecision pairs a breakdown item with its decision.
type itemDecision struct {
	Item     models.BreakdownItem `yaml:"item"`
	Decision models.Decision      `yaml:"decision"`
}

type classification struct {
	Analysis models.Analysis `yaml:"analysis"`
	Decision models.Decision `yaml:"decision"`
	Items    []itemDecision  `yaml:"items"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" && classifyTitle == "" {
		return fmt.Errorf("request text or --title is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tables, err := loadTables(cfg)
	if err != nil {
		return err
	}

	meta := classify.Metadata{}
	if classifyTitle != "" {
		meta[classify.MetaTitle] = classifyTitle
	}
	if len(classifyLabels) > 0 {
		meta[classify.MetaLabels] = strings.Join(classifyLabels, ",")
	}
	if classifyPriority != "" {
		meta[classify.MetaPriority] = classifyPriority
	}

	requestText := text
	if classifyTitle != "" && text != "" {
		requestText = classifyTitle + "\n\n" + text
	} else if text == "" {
		requestText = classifyTitle
	}

	result := evaluate(classify.New(tables), decision.New(cfg.Decision, tables), requestText, meta,
		decision.Origin{ID: classifyOrigin, Title: classifyTitle})

	out := cmd.OutOrStdout()
	if classifyYAML {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encode classification: %w", err)
		}
		return enc.Close()
	}
	printClassification(out, result)
	return nil
}

// evaluate classifies text and decides the request and each breakdown item
// the way a session would.
func evaluate(c *classify.Classifier, e *decision.Engine, text string, meta classify.Metadata, origin decision.Origin) classification {
	analysis := c.Classify(text, meta)
	result := classification{
		Analysis: analysis,
		Decision: e.Decide(analysis, origin),
	}
	for _, item := range analysis.TaskBreakdown {
		itemOrigin := origin
		if len(analysis.TaskBreakdown) > 1 {
			itemOrigin.Step = item.ID
		}
		result.Items = append(result.Items, itemDecision{
			Item:     item,
			Decision: e.Decide(analysis.ForItem(item), itemOrigin),
		})
	}
	return result
}

func printClassification(out io.Writer, r classification) {
	a := r.Analysis
	bold := color.New(color.Bold)

	bold.Fprintln(out, "Analysis")
	fmt.Fprintf(out, "  Type:        %s\n", a.Type)
	fmt.Fprintf(out, "  Complexity:  %d (%s)\n", a.ComplexityScore, a.Tier())
	fmt.Fprintf(out, "  Priority:    %d\n", a.Priority)
	fmt.Fprintf(out, "  Agent kinds: %s\n", strings.Join(a.RecommendedAgentKinds, ", "))
	fmt.Fprintf(out, "  Confidence:  %.2f\n", a.Confidence)
	fmt.Fprintf(out, "  Files:       ~%d", a.EstimatedFiles)
	if len(a.Files) > 0 {
		fmt.Fprintf(out, " (%s)", strings.Join(a.Files, ", "))
	}
	fmt.Fprintln(out)
	if len(a.Labels) > 0 {
		fmt.Fprintf(out, "  Labels:      %s\n", strings.Join(a.Labels, ", "))
	}
	if len(a.MatchedKeywords) > 0 {
		fmt.Fprintf(out, "  Keywords:    %s\n", strings.Join(a.MatchedKeywords, ", "))
	}

	fmt.Fprintln(out)
	bold.Fprintln(out, "Decision")
	printDecision(out, "  ", r.Decision)

	if len(r.Items) == 0 {
		return
	}
	fmt.Fprintln(out)
	bold.Fprintln(out, "Breakdown")
	for _, it := range r.Items {
		fmt.Fprintf(out, "  %s [%s] p%d %s", it.Item.ID, it.Item.AgentKind, it.Item.Priority, it.Item.Title)
		if len(it.Item.Dependencies) > 0 {
			fmt.Fprintf(out, " (after %s)", strings.Join(it.Item.Dependencies, ", "))
		}
		fmt.Fprintln(out)
		printDecision(out, "    ", it.Decision)
	}
}

func printDecision(out io.Writer, indent string, d models.Decision) {
	if !d.ShouldDelegate {
		fmt.Fprintf(out, "%s%s %s\n", indent, color.YellowString("✗ not delegated:"), d.Reason)
		return
	}
	fmt.Fprintf(out, "%s%s %s via %s, cost %d\n", indent, color.GreenString("✓ delegate"), d.Strategy, d.Executor, d.EstimatedCost)
	fmt.Fprintf(out, "%sbranch %s, priority %s, timeout %dms\n", indent, d.Options.Branch, d.Options.Priority, d.Options.TimeoutMs)
}
