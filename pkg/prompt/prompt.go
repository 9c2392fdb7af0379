// Package prompt renders agent system prompts from a structured spec.
// Only a handful of fixed shapes are ever needed, so sections are named
// fields composed with plain strings rather than a templating language.
package prompt

import (
	"fmt"
	"strings"
)

// Spec describes one agent's system prompt. Empty fields drop their
// section from the rendered output.
type Spec struct {
	Role             string
	CompanyName      string
	Task             string
	Responsibilities []string
	ReportsTo        string
	CanDelegate      bool
	CanApprove       bool
	Guidance         string
}

// Render composes the prompt text.
func (s Spec) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the %s", s.Role)
	if s.CompanyName != "" {
		fmt.Fprintf(&b, " at %s", s.CompanyName)
	}
	b.WriteString(".\n")

	if s.Task != "" {
		fmt.Fprintf(&b, "\n## Company task\n%s\n", s.Task)
	}

	if len(s.Responsibilities) > 0 {
		b.WriteString("\n## Your responsibilities\n")
		for _, r := range s.Responsibilities {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	if s.ReportsTo != "" {
		fmt.Fprintf(&b, "\n## Reporting line\nYou report to %s. Use the report_done tool when your assignment is complete.\n", s.ReportsTo)
	}

	b.WriteString("\n## Working style\n")
	b.WriteString("Communicate through messages and the provided tools. Keep replies short and concrete.\n")
	if s.CanDelegate {
		b.WriteString("You may spawn sub-agents with the create tool and delegate work to them.\n")
	}
	if s.CanApprove {
		b.WriteString("You are authorized to approve or reject work submitted by your reports.\n")
	}

	if s.Guidance != "" {
		fmt.Fprintf(&b, "\n## Additional guidance\n%s\n", s.Guidance)
	}

	return b.String()
}
