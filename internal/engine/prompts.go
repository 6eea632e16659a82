package engine

import (
	"fmt"
	"strings"

	"github.com/dumpsleuth/dumpsleuth/internal/evidence"
	"github.com/dumpsleuth/dumpsleuth/internal/oracle"
)

const plannerSystemPrompt = `You are an expert Windows crash dump investigator planning an analysis.
Respond with JSON only: {"tasks": ["..."], "reasoning": "..."}. 3 to 5 ordered tasks.`

const hypothesisSystemPrompt = `You are an expert debugger forming a testable hypothesis about a crash or hang.
Respond with JSON only:
{"hypothesis": "...", "confidence": "high|medium|low", "reasoning": "...",
 "test_commands": ["..."], "expected_if_confirmed": "...",
 "expected_if_rejected": "...", "alternative_hypotheses": ["..."]}
At most 3 test commands, cdb/SOS syntax.`

const evaluatorSystemPrompt = `You evaluate whether debugger evidence confirms a hypothesis.
Respond with JSON only:
{"result": "confirmed|rejected|inconclusive", "reasoning": "...",
 "additional_commands": ["..."]}
Be decisive; use inconclusive only when the evidence genuinely cuts both ways.`

const investigatorSystemPrompt = `You are executing one task of a crash dump investigation, one debugger command at a time.
Respond with JSON only: {"command": "...", "reason": "...", "task_complete": true|false}.
Empty command with task_complete true means the task needs nothing further.`

const reasonerSystemPrompt = `You synthesize crash dump evidence into a root cause analysis.
Respond with JSON only:
{"analysis": "...", "conclusions": ["..."], "confidence": "high|medium|low",
 "done": true|false, "needs_deeper_investigation": true|false,
 "investigation_requests": ["..."]}`

const criticSystemPrompt = `You are a skeptical reviewer of a crash dump analysis. Look for unsupported
claims and missing evidence. Respond with JSON only:
{"critical_issues": ["..."], "evidence_gaps": ["..."], "acceptable": true|false}`

func planPrompt(s *AnalysisState) string {
	return fmt.Sprintf("Dump: %s (type: %s)\nReported issue: %s\n\nProduce an ordered investigation plan.",
		s.DumpPath, s.DumpType, s.Issue)
}

func hypothesisPrompt(s *AnalysisState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reported issue: %s\nDump type: %s\n", s.Issue, s.DumpType)
	if s.Plan != nil && len(s.Plan.Tasks) > 0 {
		fmt.Fprintf(&b, "\nInvestigation plan:\n")
		for i, t := range s.Plan.Tasks {
			fmt.Fprintf(&b, "%d. %s\n", i+1, t)
		}
	}
	if rejected := rejectedTests(s); len(rejected) > 0 {
		b.WriteString("\nAlready rejected hypotheses (do not repeat):\n")
		for _, t := range rejected {
			fmt.Fprintf(&b, "- %s (%s)\n", t.Hypothesis, t.Reasoning)
		}
	}
	if s.Hypothesis != nil && len(s.Hypothesis.Alternatives) > 0 {
		b.WriteString("\nPreviously suggested alternatives:\n")
		for _, a := range s.Hypothesis.Alternatives {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	b.WriteString("\nForm the most likely testable hypothesis.")
	return b.String()
}

func rejectedTests(s *AnalysisState) []HypothesisTest {
	var out []HypothesisTest
	for _, t := range s.Tests {
		if t.Result == ResultRejected {
			out = append(out, t)
		}
	}
	return out
}

func evaluatePrompt(s *AnalysisState, test *HypothesisTest, evs []evidence.Evidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hypothesis: %s\n", test.Hypothesis)
	if s.Hypothesis != nil {
		fmt.Fprintf(&b, "Expected if confirmed: %s\nExpected if rejected: %s\n",
			s.Hypothesis.ExpectedIfConfirmed, s.Hypothesis.ExpectedIfRejected)
	}
	b.WriteString("\nEvidence:\n")
	if len(evs) == 0 {
		b.WriteString("(no evidence collected)\n")
	}
	for _, ev := range evs {
		fmt.Fprintf(&b, "\n## %s\n", ev.Command)
		if ev.Summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", ev.Summary)
		}
		fmt.Fprintf(&b, "%s\n", oracle.Truncate(ev.Content, 2000))
	}
	return b.String()
}

func investigatePrompt(s *AnalysisState, task string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reported issue: %s\nCurrent task: %s\n", s.Issue, task)
	if len(s.CommandsExecuted) > 0 {
		b.WriteString("\nCommands already executed (do not repeat):\n")
		for _, cmd := range s.CommandsExecuted {
			fmt.Fprintf(&b, "- %s\n", cmd)
		}
	}
	b.WriteString("\nChoose the single next command for this task, or mark it complete.")
	return b.String()
}

func reasonPrompt(s *AnalysisState, relevant []evidence.Evidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reported issue: %s\n", s.Issue)
	if len(s.Tests) > 0 {
		b.WriteString("\nHypotheses tested:\n")
		for _, t := range s.Tests {
			result := t.Result
			if result == "" {
				result = "untested"
			}
			fmt.Fprintf(&b, "- %s: %s\n", t.Hypothesis, result)
		}
	}
	b.WriteString("\nMost relevant evidence:\n")
	for _, ev := range relevant {
		fmt.Fprintf(&b, "\n## %s\n", ev.Command)
		if ev.Summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", ev.Summary)
		}
		for _, f := range ev.KeyFindings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		if ev.Summary == "" && len(ev.KeyFindings) == 0 {
			fmt.Fprintf(&b, "%s\n", oracle.Truncate(ev.Content, 1500))
		}
	}
	b.WriteString("\nSynthesize the root cause analysis.")
	return b.String()
}

func critiquePrompt(s *AnalysisState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reported issue: %s\n", s.Issue)
	if s.Reason != nil {
		fmt.Fprintf(&b, "\nAnalysis under review (confidence %s):\n%s\n", s.Reason.Confidence, s.Reason.Analysis)
		for _, conc := range s.Reason.Conclusions {
			fmt.Fprintf(&b, "- %s\n", conc)
		}
	}
	fmt.Fprintf(&b, "\nCommands executed: %s\n", strings.Join(s.CommandsExecuted, ", "))
	b.WriteString("\nReview skeptically.")
	return b.String()
}
