// Package classify turns free-text requests into a structured Analysis using
// keyword tables. Classification is deterministic and never fails: malformed
// input degrades to a low-confidence analysis routed to the fallback kind.
package classify

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/ShayCichocki/courier/internal/config"
	"github.com/ShayCichocki/courier/pkg/models"
)

// Metadata keys read by the classifier.
const (
	MetaTitle          = "title"
	MetaPriority       = "priority"
	MetaLabels         = "labels"
	MetaEstimatedFiles = "estimated_files"
)

// Metadata carries issue-tracker fields alongside the request text.
type Metadata map[string]string

// Labels returns the comma-separated labels, trimmed, without empties.
func (m Metadata) Labels() []string {
	raw := m[MetaLabels]
	if raw == "" {
		return nil
	}
	var labels []string
	for _, l := range strings.Split(raw, ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}

const (
	minScore = 1
	maxScore = 10

	// defaultPriority applies when neither metadata nor text signal urgency.
	defaultPriority = 5
	// urgentPriority applies when the text contains an urgency keyword.
	urgentPriority = 9

	degradedConfidence = 0.3
	maxTitleLength     = 80
)

// Classifier scores requests against a swappable set of tables.
type Classifier struct {
	tables atomic.Pointer[config.Tables]
}

// New creates a classifier. Nil tables select the built-in defaults.
func New(tables *config.Tables) *Classifier {
	c := &Classifier{}
	c.SetTables(tables)
	return c
}

// SetTables atomically replaces the lookup tables. Classifications already
// in progress finish with the tables they started with.
func (c *Classifier) SetTables(tables *config.Tables) {
	if tables == nil {
		tables = config.DefaultTables()
	}
	c.tables.Store(tables)
}

// Tables returns the tables currently in effect.
func (c *Classifier) Tables() *config.Tables {
	return c.tables.Load()
}

// Classify analyzes text with its metadata.
func (c *Classifier) Classify(text string, meta Metadata) models.Analysis {
	tables := c.tables.Load()
	lower := strings.ToLower(text)
	labels := meta.Labels()

	if strings.TrimSpace(text) == "" {
		return degraded(tables, meta, labels)
	}

	var matched []string
	note := func(kw string) {
		for _, m := range matched {
			if m == kw {
				return
			}
		}
		matched = append(matched, kw)
	}

	score, bucketKW := complexity(tables.Complexity, lower, text)
	if bucketKW != "" {
		note(bucketKW)
	}

	reqType := models.RequestChore
	for _, rule := range tables.RequestTypes {
		if kw, ok := firstKeyword(lower, rule.Keywords); ok {
			reqType = rule.Type
			note(kw)
			break
		}
	}

	var kinds []string
	for _, capability := range tables.Capabilities {
		if kw, ok := firstKeyword(lower, capability.Keywords); ok {
			kinds = append(kinds, capability.Kind)
			note(kw)
		}
	}
	if len(kinds) == 0 {
		kinds = []string{models.FallbackAgentKind}
	}

	_, critical := firstKeyword(lower, tables.CriticalKeywords)
	breakdown := buildBreakdown(kinds, itemTitle(text, meta), text, critical)

	files := extractFiles(text)

	return models.Analysis{
		Type:                  reqType,
		ComplexityScore:       score,
		Priority:              priority(tables, meta, lower),
		RecommendedAgentKinds: kinds,
		TaskBreakdown:         breakdown,
		Confidence:            confidence(len(breakdown)),
		Files:                 files,
		EstimatedFiles:        estimateFiles(files, meta, score),
		Labels:                labels,
		MatchedKeywords:       matched,
	}
}

func degraded(tables *config.Tables, meta Metadata, labels []string) models.Analysis {
	score := clamp(tables.Complexity.Base)
	title := itemTitle("", meta)
	if title == "" {
		title = "untitled request"
	}
	return models.Analysis{
		Type:                  models.RequestChore,
		ComplexityScore:       score,
		Priority:              priority(tables, meta, ""),
		RecommendedAgentKinds: []string{models.FallbackAgentKind},
		TaskBreakdown:         buildBreakdown([]string{models.FallbackAgentKind}, title, "", false),
		Confidence:            degradedConfidence,
		EstimatedFiles:        estimateFiles(nil, meta, score),
		Labels:                labels,
	}
}

// complexity applies the first matching bucket (high, medium, low) and the
// long-description bonus, clamped to [1,10].
func complexity(table config.ComplexityTable, lower, text string) (int, string) {
	score := table.Base
	var hit string
	for _, bucket := range []config.KeywordBucket{table.High, table.Medium, table.Low} {
		if kw, ok := firstKeyword(lower, bucket.Keywords); ok {
			score += bucket.Delta
			hit = kw
			break
		}
	}
	if table.LongDescriptionThreshold > 0 && utf8.RuneCountInString(text) > table.LongDescriptionThreshold {
		score += table.LongDescriptionBonus
	}
	return clamp(score), hit
}

// priority prefers an explicit metadata priority over text signals.
func priority(tables *config.Tables, meta Metadata, lower string) int {
	if p, ok := metadataPriority(meta[MetaPriority]); ok {
		return p
	}
	if _, ok := firstKeyword(lower, tables.UrgencyKeywords); ok {
		return urgentPriority
	}
	return defaultPriority
}

// metadataPriority accepts named levels or issue-tracker numeric
// priorities where 1 is urgent and 4 is low. 0 means unset.
func metadataPriority(raw string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "urgent", "1":
		return 10, true
	case "high", "2":
		return 8, true
	case "medium", "normal", "3":
		return 5, true
	case "low", "4":
		return 3, true
	default:
		return 0, false
	}
}

// itemPriority is the fixed per-kind priority rule for breakdown items.
func itemPriority(kind string, critical bool) int {
	switch {
	case kind == "security" || critical:
		return 10
	case kind == "backend" || kind == "frontend":
		return 8
	case kind == "testing" || kind == "devops":
		return 6
	case kind == "documentation":
		return 3
	default:
		return 5
	}
}

// followsImplementation reports whether items of kind wait for the
// implementation items of the same breakdown.
func followsImplementation(kind string) bool {
	return kind == "testing" || kind == "documentation"
}

func buildBreakdown(kinds []string, title, text string, critical bool) []models.BreakdownItem {
	items := make([]models.BreakdownItem, 0, len(kinds))
	var implementation []string
	for i, kind := range kinds {
		id := fmt.Sprintf("step-%d", i+1)
		items = append(items, models.BreakdownItem{
			ID:          id,
			AgentKind:   kind,
			Title:       fmt.Sprintf("[%s] %s", kind, title),
			Description: text,
			Priority:    itemPriority(kind, critical),
		})
		if !followsImplementation(kind) {
			implementation = append(implementation, id)
		}
	}
	for i := range items {
		if followsImplementation(items[i].AgentKind) && len(implementation) > 0 {
			items[i].Dependencies = append([]string(nil), implementation...)
		}
	}
	return items
}

// confidence is a step function of breakdown size, not a probability.
func confidence(items int) float64 {
	switch {
	case items <= 1:
		return 0.9
	case items <= 3:
		return 0.75
	default:
		return 0.6
	}
}

func estimateFiles(files []string, meta Metadata, score int) int {
	if len(files) > 0 {
		return len(files)
	}
	if n, err := strconv.Atoi(strings.TrimSpace(meta[MetaEstimatedFiles])); err == nil && n > 0 {
		return n
	}
	switch {
	case score >= 8:
		return 10
	case score >= 5:
		return 4
	default:
		return 1
	}
}

// itemTitle prefers the metadata title, else the first line of text.
func itemTitle(text string, meta Metadata) string {
	title := strings.TrimSpace(meta[MetaTitle])
	if title == "" {
		title = strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		r := []rune(title)
		title = strings.TrimSpace(string(r[:maxTitleLength])) + "..."
	}
	return title
}

func clamp(score int) int {
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
