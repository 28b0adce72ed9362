package delegation

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/courier/pkg/models"
)

// ScopeGuidance is prepended to every delegated prompt.
const ScopeGuidance = `## Scope Guidance

Stay focused on this task. Note unrelated improvements in the pull request
description instead of implementing them.
`

// BuildPrompt renders the instructions sent to the remote agent for a task.
func BuildPrompt(task *models.Task) string {
	var sb strings.Builder

	sb.WriteString(ScopeGuidance)
	sb.WriteString("\n")

	sb.WriteString("Task ID: ")
	sb.WriteString(task.ID)
	sb.WriteString("\n")
	sb.WriteString("Title: ")
	sb.WriteString(task.Title)
	sb.WriteString("\n")
	if task.AgentKind != "" && task.AgentKind != models.FallbackAgentKind {
		sb.WriteString(fmt.Sprintf("Role: %s specialist\n", task.AgentKind))
	}

	if task.Description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(task.Description)
		sb.WriteString("\n")
	}

	if len(task.Files) > 0 {
		sb.WriteString("\n## Relevant Files\n\n")
		for _, f := range task.Files {
			sb.WriteString(fmt.Sprintf("- `%s`\n", f))
		}
	}

	if opts := task.Options; opts != nil {
		sb.WriteString("\n## Delivery\n\n")
		if opts.Branch != "" {
			sb.WriteString(fmt.Sprintf("- Work on branch `%s`\n", opts.Branch))
		}
		if opts.CreatePR {
			sb.WriteString("- Open a pull request when finished\n")
		}
		if !opts.AutoMerge {
			sb.WriteString("- Do not merge; a human will review\n")
		}
	}

	sb.WriteString("\nWhen finished, provide a summary of what was done.\n")

	return sb.String()
}
