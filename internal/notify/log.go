package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// LogReporter prints updates to a terminal, colored by outcome.
type LogReporter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewLogReporter writes to out, or stderr when out is nil.
func NewLogReporter(out io.Writer) *LogReporter {
	if out == nil {
		out = os.Stderr
	}
	return &LogReporter{out: out}
}

// Name implements Reporter.
func (l *LogReporter) Name() string { return "log" }

// Report implements Reporter.
func (l *LogReporter) Report(_ context.Context, u Update) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := kindColor(u.Kind).Fprintln(l.out, FormatText(u))
	return err
}

func kindColor(kind string) *color.Color {
	switch {
	case strings.HasSuffix(kind, "completed"), kind == "orchestration:complete":
		return color.New(color.FgGreen)
	case strings.HasSuffix(kind, "failed"):
		return color.New(color.FgRed)
	case strings.HasSuffix(kind, "cancelled"):
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

// FormatText renders an update as a single human-readable line.
func FormatText(u Update) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", u.SessionID, u.Kind)
	if u.TaskID != "" {
		fmt.Fprintf(&b, " task=%s", u.TaskID)
	}
	if u.TaskTitle != "" {
		fmt.Fprintf(&b, " %q", u.TaskTitle)
	}
	if u.Progress != nil {
		fmt.Fprintf(&b, " %d%%", u.Progress.Percentage)
		if u.Progress.CurrentStep != "" {
			fmt.Fprintf(&b, " (%s)", u.Progress.CurrentStep)
		}
	}
	if u.Summary != nil {
		fmt.Fprintf(&b, " total=%d completed=%d failed=%d cancelled=%d",
			u.Summary.Total, u.Summary.Completed, u.Summary.Failed, u.Summary.Cancelled)
	}
	if u.PRURL != "" {
		fmt.Fprintf(&b, " pr=%s", u.PRURL)
	}
	if u.Message != "" {
		fmt.Fprintf(&b, ": %s", u.Message)
	}
	return b.String()
}
