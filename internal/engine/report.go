package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dumpsleuth/dumpsleuth/internal/oracle"
)

const reportSystemPrompt = `You write the final report of a crash dump investigation for an engineer
who has not seen the session. Markdown, concise, evidence-backed. Sections:
Executive Summary, Root Cause, Supporting Evidence, Recommendations.`

// renderReport builds the final narrative. The oracle writes the body;
// if it cannot, a deterministic rendering of the accumulated state is
// used so a run never ends without a report.
func (c *Controller) renderReport(ctx context.Context) string {
	var body string
	if resp, err := oracle.CompleteWithRetry(ctx, c.cfg.Oracle, []oracle.Message{
		{Role: oracle.RoleSystem, Content: reportSystemPrompt},
		{Role: oracle.RoleUser, Content: reportPrompt(c.state, c.relevantSummaries(ctx))},
	}, oracle.Options{Temperature: 0.3}, c.cfg.RetryPolicy); err == nil {
		body = strings.TrimSpace(resp)
	}
	if body == "" {
		body = c.fallbackReport()
	}
	return c.reportHeader() + body + c.reportFooter()
}

func (c *Controller) reportHeader() string {
	var b strings.Builder
	b.WriteString("# Dump Analysis Report\n\n")
	fmt.Fprintf(&b, "- Dump: %s\n", c.state.DumpPath)
	fmt.Fprintf(&b, "- Issue: %s\n", c.state.Issue)
	fmt.Fprintf(&b, "- Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Iterations: %d/%d, commands executed: %d\n",
		c.state.Iteration, c.state.MaxIterations, len(c.state.CommandsExecuted))
	if c.state.TerminationReason != "" {
		fmt.Fprintf(&b, "- Stopped early: %s\n", c.state.TerminationReason)
	}
	b.WriteString("\n")
	return b.String()
}

func (c *Controller) reportFooter() string {
	var b strings.Builder
	b.WriteString("\n\n---\n")
	if len(c.state.Tests) > 0 {
		b.WriteString("\n## Hypotheses Tested\n\n")
		for _, t := range c.state.Tests {
			result := t.Result
			if result == "" {
				result = "untested"
			}
			fmt.Fprintf(&b, "- %s: **%s**\n", t.Hypothesis, result)
		}
	}
	if c.cfg.Healer != nil {
		if stats := c.cfg.Healer.Stats(); stats.Calls() > 0 {
			fmt.Fprintf(&b, "\n## Command Healing\n\n%d healed, %d failed (%.0f%% success)\n",
				stats.SuccessfulHeals, stats.FailedHeals, stats.SuccessRate()*100)
		}
	}
	if c.state.Critique != nil && c.state.Critique.HasUnresolvedIssues {
		b.WriteString("\n## Caveats\n\nThe review pass left unresolved issues:\n\n")
		for _, issue := range c.state.Critique.CriticalIssues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	return b.String()
}

// fallbackReport renders the state deterministically.
func (c *Controller) fallbackReport() string {
	var b strings.Builder
	b.WriteString("## Root Cause\n\n")
	if c.state.Reason != nil && c.state.Reason.Analysis != "" {
		b.WriteString(c.state.Reason.Analysis + "\n")
	} else {
		b.WriteString("The investigation did not reach a conclusive root cause.\n")
	}
	if c.state.Reason != nil && len(c.state.Reason.Conclusions) > 0 {
		b.WriteString("\n## Conclusions\n\n")
		for _, conc := range c.state.Reason.Conclusions {
			fmt.Fprintf(&b, "- %s\n", conc)
		}
		fmt.Fprintf(&b, "\nConfidence: %s\n", c.state.Reason.Confidence)
	}
	return b.String()
}

func reportPrompt(s *AnalysisState, summaries []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reported issue: %s\nDump: %s\n", s.Issue, s.DumpPath)
	if s.Reason != nil {
		fmt.Fprintf(&b, "\nAnalysis (confidence %s):\n%s\n", s.Reason.Confidence, s.Reason.Analysis)
		for _, conc := range s.Reason.Conclusions {
			fmt.Fprintf(&b, "- %s\n", conc)
		}
	}
	if len(summaries) > 0 {
		b.WriteString("\nEvidence summaries:\n")
		for _, sum := range summaries {
			fmt.Fprintf(&b, "- %s\n", sum)
		}
	}
	b.WriteString("\nWrite the final report.")
	return b.String()
}

func (c *Controller) relevantSummaries(ctx context.Context) []string {
	var out []string
	for _, ev := range c.relevantEvidence(ctx) {
		if ev.Summary == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", ev.Command, ev.Summary))
	}
	return out
}
