package main

import (
	"fmt"
	"strings"

	"mira/internal/interview"
	"mira/internal/orchestrator"
)

func statusMarker(status interview.ModuleStatus) string {
	switch status {
	case interview.ModuleCompleted:
		return green("✓")
	case interview.ModuleInProgress:
		return yellow("→")
	default:
		return gray("·")
	}
}

func renderProgress(p *orchestrator.Progress) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n%s  %s\n", bold("Progress"), gray(fmt.Sprintf("%.0f%% overall", p.OverallPct)))
	for _, m := range p.Modules {
		line := fmt.Sprintf("  %s %s", statusMarker(m.Status), m.Name)
		if m.Questions > 0 {
			line += gray(fmt.Sprintf("  %d/%d questions", m.Answered, m.Questions))
		}
		if m.CriteriaMet > 0 {
			line += gray(fmt.Sprintf(", %d criteria met", m.CriteriaMet))
		}
		if m.EarlyStop {
			line += gray(", stopped early")
		}
		b.WriteString(line + "\n")
	}
	if len(p.Degraded) > 0 {
		fmt.Fprintf(&b, "  %s %s\n", yellow("!"), gray("unavailable: "+strings.Join(p.Degraded, ", ")))
	}
	if p.SafetyFlag {
		fmt.Fprintf(&b, "\n%s\n", yellow("A safety follow-up was flagged during this session."))
	}
	return b.String()
}

func renderResults(r *orchestrator.Results) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n%s  %s\n", bold("Results"), gray("session "+r.SessionID))
	if len(r.Modules) == 0 {
		b.WriteString(gray("  No modules completed yet.\n"))
	}

	for _, res := range r.Modules {
		fmt.Fprintf(&b, "\n%s\n", bold(res.ModuleID))
		if res.Narrative != "" {
			b.WriteString(indent(res.Narrative, "  ") + "\n")
			continue
		}
		b.WriteString("  " + screeningLine(res) + "\n")
		if res.EarlyStop && res.EarlyStopReason != "" {
			fmt.Fprintf(&b, "  %s\n", gray("stopped early: "+res.EarlyStopReason))
		}
	}

	if len(r.Symptoms) > 0 {
		fmt.Fprintf(&b, "\n%s\n", bold("Reported symptoms"))
		for _, s := range r.Symptoms {
			line := "  " + s.Name
			if s.Category != "" {
				line += gray(" (" + s.Category + ")")
			}
			line += gray(fmt.Sprintf(", mentioned %d time(s)", s.MentionCount))
			if s.Severity != "" {
				line += gray(", severity " + s.Severity)
			}
			b.WriteString(line + "\n")
		}
	}

	if r.SafetyFlag {
		fmt.Fprintf(&b, "\n%s\n", yellow("A safety follow-up was flagged; share this with the reviewing clinician."))
	}
	return b.String()
}

// screeningLine compresses a question module's outcome to one line.
func screeningLine(res *interview.ModuleResult) string {
	total := res.Summary.MetCount + res.Summary.UnmetCount + res.Summary.UnknownCount
	if total == 0 {
		return fmt.Sprintf("%d responses recorded", len(res.Responses))
	}
	line := fmt.Sprintf("%d of %d criteria met (minimum %d)",
		res.Summary.MetCount, total, res.Summary.MinimumRequired)
	if res.Summary.CriteriaMet {
		return line + ", " + yellow("screening threshold reached")
	}
	return line + ", " + gray("below screening threshold")
}

func indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
