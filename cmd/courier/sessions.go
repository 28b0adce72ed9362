package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/courier/internal/graph"
	"github.com/ShayCichocki/courier/pkg/models"
)

var (
	sessionsActive bool
	sessionsLimit  int
	showJSON       bool
	cleanupDays    int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
	Long: `Inspect sessions in the configured storage.

These commands read the database directly and work whether or not
'courier serve' is running.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one session with its tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old terminal sessions",
	Long: `Remove completed, failed and cancelled sessions last updated more than
--days ago. Running and created sessions are never removed.

Examples:
  courier sessions cleanup             # Use storage.retention_days
  courier sessions cleanup --days 7`,
	RunE: runSessionsCleanup,
}

func init() {
	sessionsListCmd.Flags().BoolVar(&sessionsActive, "active", false, "Only created and running sessions")
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to show (0 for all)")
	sessionsShowCmd.Flags().BoolVar(&showJSON, "json", false, "Print the stored session as JSON")
	sessionsCleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Age threshold in days (default storage.retention_days)")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsCleanupCmd)
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyles = map[string]lipgloss.Style{
		"created":   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		"pending":   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		"running":   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		"completed": lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"failed":    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		"cancelled": lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
)

func styleStatus(status string) string {
	if st, ok := statusStyles[status]; ok {
		return st.Render(status)
	}
	return status
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	var sessions []*models.Session
	if sessionsActive {
		sessions, err = store.ListActive()
	} else {
		sessions, err = store.List()
	}
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}
	if sessionsLimit > 0 && len(sessions) > sessionsLimit {
		sessions = sessions[:sessionsLimit]
	}
	printSessionList(out, sessions, time.Now())
	return nil
}

func printSessionList(out io.Writer, sessions []*models.Session, now time.Time) {
	fmt.Fprintln(out, headingStyle.Render(fmt.Sprintf("%-36s  %-12s  %-10s  %-9s  %s", "ID", "ORIGIN", "STATUS", "TASKS", "UPDATED")))
	for _, s := range sessions {
		sum := sessionSummary(s)
		// Pad outside the style so escape codes do not count toward the width.
		pad := strings.Repeat(" ", max(0, 10-len(s.Status)))
		fmt.Fprintf(out, "%-36s  %-12s  %s  %-9s  %s\n",
			s.ID,
			truncate(s.OriginID, 12),
			styleStatus(string(s.Status))+pad,
			fmt.Sprintf("%d/%d", sum.Completed, sum.Total),
			formatAge(now.Sub(s.UpdatedAt)))
	}
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := store.Load(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if showJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	printSession(out, s, time.Now())
	return nil
}

func printSession(out io.Writer, s *models.Session, now time.Time) {
	fmt.Fprintf(out, "%s %s\n", headingStyle.Render("Session"), s.ID)
	fmt.Fprintf(out, "  Origin:   %s\n", s.OriginID)
	if s.Title != "" {
		fmt.Fprintf(out, "  Title:    %s\n", s.Title)
	}
	fmt.Fprintf(out, "  Status:   %s", styleStatus(string(s.Status)))
	if s.Reason != "" {
		fmt.Fprintf(out, " %s", dimStyle.Render("("+s.Reason+")"))
	}
	fmt.Fprintln(out)
	if s.Strategy != "" {
		fmt.Fprintf(out, "  Strategy: %s\n", s.Strategy)
	}
	if s.Analysis != nil {
		fmt.Fprintf(out, "  Analysis: %s, complexity %d, priority %d\n", s.Analysis.Type, s.Analysis.ComplexityScore, s.Analysis.Priority)
	}
	fmt.Fprintf(out, "  Created:  %s ago\n", formatAge(now.Sub(s.CreatedAt)))
	fmt.Fprintf(out, "  Updated:  %s ago\n", formatAge(now.Sub(s.UpdatedAt)))

	sum := sessionSummary(s)
	fmt.Fprintf(out, "  Tasks:    %d total, %d completed, %d failed, %d cancelled, %d running, %d pending",
		sum.Total, sum.Completed, sum.Failed, sum.Cancelled, sum.Running, sum.Pending)
	if blocked := len(graph.Blocked(s.Tasks)); blocked > 0 {
		fmt.Fprintf(out, " (%d blocked)", blocked)
	}
	fmt.Fprintln(out)

	if len(s.Tasks) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, headingStyle.Render("Tasks"))
	byID := graph.Index(s.Tasks)
	for _, t := range s.Tasks {
		fmt.Fprintf(out, "  %-8s %-10s [%s] %s\n", t.ID, styleStatus(string(t.Status)), t.AgentKind, t.Title)
		if len(t.Dependencies) > 0 {
			deps := "after " + strings.Join(t.Dependencies, ", ")
			if graph.IsBlocked(t, byID) {
				deps = "blocked, " + deps
			}
			fmt.Fprintf(out, "           %s\n", dimStyle.Render(deps))
		}
		if r := t.Result; r != nil {
			if r.RemoteTaskID != "" {
				fmt.Fprintf(out, "           remote %s\n", r.RemoteTaskID)
			}
			if r.PRURL != "" {
				fmt.Fprintf(out, "           pr %s\n", r.PRURL)
			}
			if r.Error != "" {
				fmt.Fprintf(out, "           %s\n", statusStyles["failed"].Render("error: "+r.Error))
			}
		}
	}

	if len(s.ActiveAgents) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, headingStyle.Render("Active agents"))
		ids := make([]string, 0, len(s.ActiveAgents))
		for id := range s.ActiveAgents {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			a := s.ActiveAgents[id]
			fmt.Fprintf(out, "  %s task=%s remote=%s %s\n", id, a.TaskID, a.RemoteTaskID, a.Status)
		}
	}
}

func runSessionsCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	days := cleanupDays
	if days == 0 {
		days = cfg.Storage.RetentionDays
	}
	if days <= 0 {
		return fmt.Errorf("--days must be positive (storage.retention_days is %d)", cfg.Storage.RetentionDays)
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.CleanupOlderThan(days)
	if err != nil {
		return fmt.Errorf("cleanup sessions: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d sessions older than %d days\n", n, days)
	return nil
}

// sessionSummary prefers the recorded summary of a terminal session.
func sessionSummary(s *models.Session) models.Summary {
	if s.Summary != nil {
		return *s.Summary
	}
	return models.Summarize(s.Tasks)
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
