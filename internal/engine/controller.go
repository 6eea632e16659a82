package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dumpsleuth/dumpsleuth/internal/analyzers"
	"github.com/dumpsleuth/dumpsleuth/internal/debugger"
	"github.com/dumpsleuth/dumpsleuth/internal/evidence"
	"github.com/dumpsleuth/dumpsleuth/internal/healer"
	"github.com/dumpsleuth/dumpsleuth/internal/oracle"
	"github.com/dumpsleuth/dumpsleuth/internal/redact"
	"github.com/dumpsleuth/dumpsleuth/internal/session"
)

// ErrIterationLimit marks a run that stopped because the iteration
// budget ran out. The run still produces a report.
var ErrIterationLimit = errors.New("iteration limit reached")

// ReportRequestFile is the control file name that, dropped into the
// session directory, short-circuits the run to the report phase.
const ReportRequestFile = "report.request"

// Config wires the controller's collaborators.
type Config struct {
	Oracle    oracle.Oracle
	Executor  debugger.Executor
	Registry  *analyzers.Registry
	Store     *evidence.Store
	Retriever *evidence.Retriever
	Healer    *healer.Healer
	Redactor  *redact.Redactor
	Session   *session.Session
	Audit     *session.AuditLog

	MaxIterations         int
	MaxHypothesisAttempts int
	RetrievalTopK         int
	UseEmbeddings         bool
	RetryPolicy           oracle.RetryPolicy

	// Interactive pauses at each transition; Confirm returning false
	// requests the report instead of the next phase.
	Interactive bool
	Confirm     func(next Phase) bool

	ShowCommands bool
	Stderr       io.Writer
}

// Controller runs one investigation. It is the sole mutator of the
// state record; one command is in flight at a time.
type Controller struct {
	cfg   Config
	state *AnalysisState

	pendingCommands []string
	executed        map[string]string
	reportRequested atomic.Bool
	stderr          io.Writer
}

// New validates the wiring and returns a Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("engine: oracle is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("engine: executor is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: evidence store is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = analyzers.DefaultRegistry()
	}
	if cfg.Redactor == nil {
		cfg.Redactor = redact.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 15
	}
	if cfg.MaxHypothesisAttempts <= 0 {
		cfg.MaxHypothesisAttempts = 8
	}
	if cfg.RetrievalTopK <= 0 {
		cfg.RetrievalTopK = 5
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = oracle.DefaultRetryPolicy()
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &Controller{
		cfg:      cfg,
		executed: map[string]string{},
		stderr:   cfg.Stderr,
	}, nil
}

// RequestReport flags the run to jump to the report phase at the next
// transition. Safe to call from another goroutine.
func (c *Controller) RequestReport() { c.reportRequested.Store(true) }

// Run drives the state machine to completion. Cancellation via ctx
// ends the run without losing stored evidence.
func (c *Controller) Run(ctx context.Context, dumpPath, issue string) (*AnalysisState, error) {
	c.state = &AnalysisState{
		DumpPath:      dumpPath,
		Issue:         issue,
		DumpType:      "user",
		Phase:         PhasePlan,
		MaxIterations: c.cfg.MaxIterations,
	}

	if c.cfg.Session != nil {
		stop, err := c.watchReportRequests(ctx)
		if err != nil {
			fmt.Fprintf(c.stderr, "warning: report-request watcher unavailable: %v\n", err)
		} else {
			defer stop()
		}
	}

	for c.state.Phase != PhaseDone {
		if err := ctx.Err(); err != nil {
			c.state.TerminationReason = "cancelled"
			return c.state, err
		}
		if c.reportRequested.Load() && c.state.Phase != PhaseReport {
			if c.state.TerminationReason == "" {
				c.state.TerminationReason = "report requested"
			}
			c.transition(PhaseReport)
		}
		if reason, due := c.investigationDue(); due && investigative(c.state.Phase) {
			if c.state.TerminationReason == "" {
				c.state.TerminationReason = reason
			}
			c.transition(PhaseReason)
		}

		var next Phase
		var err error
		switch c.state.Phase {
		case PhasePlan:
			next, err = c.stepPlan(ctx)
		case PhaseHypothesize:
			next, err = c.stepHypothesize(ctx)
		case PhaseTest:
			next, err = c.stepTest(ctx)
		case PhaseInvestigate:
			next, err = c.stepInvestigate(ctx)
		case PhaseReason:
			next, err = c.stepReason(ctx)
		case PhaseCritique:
			next, err = c.stepCritique(ctx)
		case PhaseReport:
			next, err = c.stepReport(ctx)
		default:
			return c.state, fmt.Errorf("engine: unknown phase %q", c.state.Phase)
		}
		if err != nil {
			return c.state, err
		}
		c.transition(next)
	}
	return c.state, nil
}

// investigationDue decides whether evidence gathering must stop. The
// checks are ordered: iteration budget first, then the reasoner's own
// verdict, then plan exhaustion.
func (c *Controller) investigationDue() (string, bool) {
	s := c.state
	if s.Iteration >= s.MaxIterations {
		return ErrIterationLimit.Error(), true
	}
	if s.Reason != nil && s.Reason.Done {
		return "analysis reported complete", true
	}
	if s.Plan != nil && s.Plan.TaskIndex >= len(s.Plan.Tasks) {
		return "investigation plan exhausted", true
	}
	return "", false
}

func investigative(p Phase) bool {
	switch p {
	case PhaseHypothesize, PhaseTest, PhaseInvestigate:
		return true
	}
	return false
}

func (c *Controller) transition(next Phase) {
	if next == c.state.Phase {
		return
	}
	c.audit(session.KindTransition, string(c.state.Phase), string(next))
	if c.cfg.Interactive && c.cfg.Confirm != nil && next != PhaseReport && next != PhaseDone {
		if !c.cfg.Confirm(next) {
			c.reportRequested.Store(true)
		}
	}
	c.state.Phase = next
}

// --- phase steps ---

type planReply struct {
	Tasks     []string `json:"tasks"`
	Reasoning string   `json:"reasoning"`
}

func (c *Controller) stepPlan(ctx context.Context) (Phase, error) {
	var reply planReply
	err := c.askJSON(ctx, plannerSystemPrompt, planPrompt(c.state), &reply)
	if err != nil || len(reply.Tasks) == 0 {
		if err != nil {
			fmt.Fprintf(c.stderr, "warning: planning failed (%v), using default plan\n", err)
		}
		reply.Tasks = defaultPlan(c.state.DumpType)
		reply.Reasoning = "default survey plan"
	}
	if len(reply.Tasks) > 5 {
		reply.Tasks = reply.Tasks[:5]
	}
	c.state.Plan = &PlanBlock{Tasks: reply.Tasks, Reasoning: reply.Reasoning}
	return PhaseHypothesize, nil
}

func defaultPlan(dumpType string) []string {
	plan := []string{
		"Survey thread state and CPU usage (!threads, !runaway)",
		"Check thread pool health (!threadpool)",
		"Look for lock contention (!syncblk)",
		"Review managed heap usage (!dumpheap -stat, !eeheap -gc)",
		"Capture stacks of the most notable threads (!clrstack)",
	}
	if dumpType == "kernel" {
		plan = []string{
			"Identify the stop context (!analyze -v)",
			"Survey processor and thread activity",
			"Inspect pool usage and pending IRPs",
		}
	}
	return plan
}

func (c *Controller) stepHypothesize(ctx context.Context) (Phase, error) {
	if c.state.HypothesisAttempts >= c.cfg.MaxHypothesisAttempts {
		c.state.HypothesisStatus = ResultRejected
		fmt.Fprintf(c.stderr, "max hypothesis attempts reached, moving to reasoning\n")
		return PhaseReason, nil
	}

	var h Hypothesis
	if err := c.askJSON(ctx, hypothesisSystemPrompt, hypothesisPrompt(c.state), &h); err != nil {
		if isFatalOracle(err) {
			return "", err
		}
		fmt.Fprintf(c.stderr, "warning: hypothesis formation failed: %v\n", err)
		return PhaseReason, nil
	}
	if h.Statement == "" {
		return PhaseReason, nil
	}
	if len(h.TestCommands) > 3 {
		h.TestCommands = h.TestCommands[:3]
	}
	c.state.Hypothesis = &h
	c.state.HypothesisAttempts++
	c.state.HypothesisStatus = "testing"
	c.state.Tests = append(c.state.Tests, HypothesisTest{Hypothesis: h.Statement})
	c.pendingCommands = append([]string(nil), h.TestCommands...)
	return PhaseTest, nil
}

type evalReply struct {
	Result             string   `json:"result"`
	Reasoning          string   `json:"reasoning"`
	AdditionalCommands []string `json:"additional_commands"`
}

func (c *Controller) stepTest(ctx context.Context) (Phase, error) {
	test := c.state.currentTest()
	if test == nil {
		return PhaseHypothesize, nil
	}
	c.state.Iteration++

	for _, cmd := range c.pendingCommands {
		if err := c.runCommand(ctx, cmd, "hypothesis test", &test.EvidenceIDs); err != nil {
			return "", err
		}
	}
	c.pendingCommands = nil

	var eval evalReply
	if err := c.askJSON(ctx, evaluatorSystemPrompt, evaluatePrompt(c.state, test, c.evidenceByID(test.EvidenceIDs)), &eval); err != nil {
		if isFatalOracle(err) {
			return "", err
		}
		eval.Result = ResultInconclusive
		eval.Reasoning = fmt.Sprintf("evaluation unavailable: %v", err)
	}
	test.Result = normalizeResult(eval.Result)
	test.Reasoning = eval.Reasoning

	switch test.Result {
	case ResultConfirmed:
		c.state.HypothesisStatus = ResultConfirmed
		return PhaseInvestigate, nil
	case ResultRejected:
		c.state.HypothesisStatus = ResultRejected
		return PhaseHypothesize, nil
	default:
		test.InconclusiveCount++
		if test.InconclusiveCount >= 2 {
			// Two inconclusive rounds: force an alternative.
			c.state.HypothesisStatus = ResultRejected
			return PhaseHypothesize, nil
		}
		extra := eval.AdditionalCommands
		if len(extra) > 2 {
			extra = extra[:2]
		}
		test.Result = ""
		c.pendingCommands = extra
		return PhaseTest, nil
	}
}

func normalizeResult(r string) string {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case ResultConfirmed:
		return ResultConfirmed
	case ResultRejected:
		return ResultRejected
	default:
		return ResultInconclusive
	}
}

type investigateReply struct {
	Command      string `json:"command"`
	Reason       string `json:"reason"`
	TaskComplete bool   `json:"task_complete"`
}

// maxCommandsPerTask bounds how long a single plan task can hold the
// debugger session.
const maxCommandsPerTask = 3

func (c *Controller) stepInvestigate(ctx context.Context) (Phase, error) {
	plan := c.state.Plan
	if plan == nil || plan.TaskIndex >= len(plan.Tasks) {
		return PhaseReason, nil
	}
	task := plan.Tasks[plan.TaskIndex]
	c.state.Iteration++

	var reply investigateReply
	if err := c.askJSON(ctx, investigatorSystemPrompt, investigatePrompt(c.state, task), &reply); err != nil {
		if isFatalOracle(err) {
			return "", err
		}
		fmt.Fprintf(c.stderr, "warning: investigator step failed: %v\n", err)
		reply.TaskComplete = true
	}

	if reply.Command != "" {
		if err := c.runCommand(ctx, reply.Command, task, nil); err != nil {
			return "", err
		}
		plan.CommandsInTask++
	}

	if reply.TaskComplete || reply.Command == "" || plan.CommandsInTask >= maxCommandsPerTask {
		plan.CompletedTasks = append(plan.CompletedTasks, task)
		plan.TaskIndex++
		plan.CommandsInTask = 0
	}

	if _, due := c.investigationDue(); due {
		return PhaseReason, nil
	}
	return PhaseInvestigate, nil
}

type reasonReply struct {
	Analysis              string   `json:"analysis"`
	Conclusions           []string `json:"conclusions"`
	Confidence            string   `json:"confidence"`
	Done                  bool     `json:"done"`
	NeedsDeeper           bool     `json:"needs_deeper_investigation"`
	InvestigationRequests []string `json:"investigation_requests"`
}

// maxDeeperRounds bounds gap-driven re-investigation.
const maxDeeperRounds = 2

func (c *Controller) stepReason(ctx context.Context) (Phase, error) {
	relevant := c.relevantEvidence(ctx)

	prevRounds := 0
	if c.state.Reason != nil {
		prevRounds = c.state.Reason.DeeperRounds
	}

	var reply reasonReply
	if err := c.askJSON(ctx, reasonerSystemPrompt, reasonPrompt(c.state, relevant), &reply); err != nil {
		if isFatalOracle(err) {
			return "", err
		}
		fmt.Fprintf(c.stderr, "warning: reasoning failed (%v), synthesizing from parsed evidence\n", err)
		reply = fallbackReason(relevant)
	}

	c.state.Reason = &ReasonBlock{
		Analysis:              reply.Analysis,
		Conclusions:           reply.Conclusions,
		Confidence:            reply.Confidence,
		Done:                  reply.Done,
		NeedsDeeper:           reply.NeedsDeeper,
		InvestigationRequests: reply.InvestigationRequests,
		DeeperRounds:          prevRounds,
	}

	if reply.NeedsDeeper && len(reply.InvestigationRequests) > 0 && !reply.Done &&
		prevRounds < maxDeeperRounds && c.state.Iteration < c.state.MaxIterations {
		c.state.Reason.DeeperRounds = prevRounds + 1
		c.state.Plan = &PlanBlock{
			Tasks:     reply.InvestigationRequests,
			Reasoning: "gap requests from reasoning",
		}
		return PhaseInvestigate, nil
	}

	if c.state.HypothesisStatus == ResultConfirmed {
		return PhaseCritique, nil
	}
	return PhaseReport, nil
}

func fallbackReason(relevant []evidence.Evidence) reasonReply {
	var conclusions []string
	for _, ev := range relevant {
		conclusions = append(conclusions, ev.KeyFindings...)
	}
	analysis := "Analysis assembled from parsed evidence without oracle synthesis."
	if len(conclusions) == 0 {
		conclusions = []string{"No conclusive findings; evidence collection was incomplete."}
	}
	return reasonReply{
		Analysis:    analysis,
		Conclusions: conclusions,
		Confidence:  evidence.ConfidenceLow,
		Done:        true,
	}
}

type critiqueReply struct {
	CriticalIssues []string `json:"critical_issues"`
	EvidenceGaps   []string `json:"evidence_gaps"`
	Acceptable     bool     `json:"acceptable"`
}

func (c *Controller) stepCritique(ctx context.Context) (Phase, error) {
	if c.state.Critique == nil {
		c.state.Critique = &CritiqueBlock{}
	}
	crit := c.state.Critique
	crit.Round++

	var reply critiqueReply
	if err := c.askJSON(ctx, criticSystemPrompt, critiquePrompt(c.state), &reply); err != nil {
		if isFatalOracle(err) {
			return "", err
		}
		fmt.Fprintf(c.stderr, "warning: critique failed: %v\n", err)
		return PhaseReport, nil
	}
	crit.CriticalIssues = reply.CriticalIssues
	crit.EvidenceGaps = reply.EvidenceGaps

	if crit.Round < 2 && !reply.Acceptable {
		if len(reply.EvidenceGaps) > 0 && c.state.Iteration < c.state.MaxIterations {
			c.state.Plan = &PlanBlock{
				Tasks:     reply.EvidenceGaps,
				Reasoning: "evidence gaps raised by critique",
			}
			if c.state.Reason != nil {
				c.state.Reason.Done = false
			}
			return PhaseInvestigate, nil
		}
		if len(reply.CriticalIssues) > 0 {
			return PhaseReason, nil
		}
	}
	crit.HasUnresolvedIssues = !reply.Acceptable && len(reply.CriticalIssues) > 0
	return PhaseReport, nil
}

func (c *Controller) stepReport(ctx context.Context) (Phase, error) {
	report := c.renderReport(ctx)
	c.state.FinalReport = report

	if c.cfg.Session != nil {
		if err := os.WriteFile(c.cfg.Session.ReportPath(), []byte(report), 0o600); err != nil {
			return "", &evidence.SessionIOError{Op: "write report", Err: err}
		}
	}
	c.audit(session.KindReport, "final report", fmt.Sprintf("%d bytes", len(report)))
	return PhaseDone, nil
}

// --- command execution ---

// runCommand executes one debugger command through the full pipeline:
// duplicate suppression, healing, redaction, analysis, storage.
func (c *Controller) runCommand(ctx context.Context, cmd, task string, collect *[]string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return nil
	}
	if id, ok := c.executed[cmd]; ok {
		if collect != nil {
			*collect = append(*collect, id)
		}
		return nil
	}
	if c.cfg.ShowCommands {
		fmt.Fprintf(c.stderr, "> %s\n", cmd)
	}

	res, err := c.cfg.Executor.Execute(ctx, cmd)
	if err != nil {
		var toolErr *debugger.ToolExecutionError
		if !errors.As(err, &toolErr) {
			return err
		}
		res = &debugger.CommandResult{Command: cmd, Success: false, Error: toolErr.Error()}
	}

	if !res.Success && c.cfg.Healer != nil {
		healed, healErr := c.cfg.Healer.Heal(ctx, cmd, res.Error, c.recentEvidence(3))
		if healErr != nil {
			c.audit(session.KindHeal, cmd, "exhausted: "+res.Error)
			fmt.Fprintf(c.stderr, "command %q failed and could not be healed, skipping\n", cmd)
			return nil
		}
		c.audit(session.KindHeal, cmd, "healed to "+healed)
		retry, err := c.cfg.Executor.Execute(ctx, healed)
		if err != nil {
			return err
		}
		if retry.Success {
			cmd = healed
			res = retry
		}
	}
	if !res.Success {
		c.audit(session.KindCommand, cmd, "failed: "+res.Error)
		return nil
	}

	clean, report := c.cfg.Redactor.Redact(res.Output)
	if report.Total > 0 {
		c.audit(session.KindRedaction, cmd, fmt.Sprintf("%d replacements", report.Total))
	}

	analysis := c.cfg.Registry.Analyze(cmd, clean)

	ev := evidence.Evidence{
		Command:   cmd,
		Finding:   task,
		Content:   clean,
		CreatedAt: time.Now().UTC(),
	}
	if analysis != nil && analysis.Success {
		ev.Summary = analysis.Summary
		ev.KeyFindings = analysis.Findings
	}
	id, err := c.cfg.Store.Put(ev)
	if err != nil {
		return err
	}

	c.executed[cmd] = id
	c.state.CommandsExecuted = append(c.state.CommandsExecuted, cmd)
	c.state.EvidenceIDs = append(c.state.EvidenceIDs, id)
	if collect != nil {
		*collect = append(*collect, id)
	}
	c.audit(session.KindCommand, cmd, "ok")
	return nil
}

func (c *Controller) evidenceByID(ids []string) []evidence.Evidence {
	var out []evidence.Evidence
	for _, id := range ids {
		ev, err := c.cfg.Store.Get(id)
		if err != nil || ev == nil {
			continue
		}
		out = append(out, *ev)
	}
	return out
}

// recentEvidence returns the n most recent stored entries, oldest
// first.
func (c *Controller) recentEvidence(n int) []evidence.Evidence {
	all, err := c.cfg.Store.All()
	if err != nil || len(all) == 0 {
		return nil
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

func (c *Controller) relevantEvidence(ctx context.Context) []evidence.Evidence {
	all, err := c.cfg.Store.All()
	if err != nil {
		return nil
	}
	if c.cfg.Retriever == nil {
		if len(all) > c.cfg.RetrievalTopK {
			all = all[len(all)-c.cfg.RetrievalTopK:]
		}
		return all
	}
	relevant := c.cfg.Retriever.FindRelevant(ctx, c.state.Issue, all, c.cfg.RetrievalTopK, c.cfg.UseEmbeddings)
	if len(relevant) == 0 {
		// Nothing summarized yet; fall back to the raw tail.
		if len(all) > c.cfg.RetrievalTopK {
			all = all[len(all)-c.cfg.RetrievalTopK:]
		}
		return all
	}
	return relevant
}

// --- oracle plumbing ---

func (c *Controller) askJSON(ctx context.Context, system, user string, out any) error {
	resp, err := oracle.CompleteWithRetry(ctx, c.cfg.Oracle, []oracle.Message{
		{Role: oracle.RoleSystem, Content: system},
		{Role: oracle.RoleUser, Content: user},
	}, oracle.Options{Temperature: 0.2}, c.cfg.RetryPolicy)
	if err != nil {
		return err
	}
	c.audit(session.KindOracle, firstLine(user), "ok")
	if err := json.Unmarshal([]byte(oracle.CleanJSON(resp)), out); err != nil {
		return fmt.Errorf("parse oracle reply: %w", err)
	}
	return nil
}

func isFatalOracle(err error) bool {
	var fatal *oracle.FatalError
	return errors.As(err, &fatal)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return oracle.Truncate(s, 120)
}

func (c *Controller) audit(kind, detail, outcome string) {
	if c.cfg.Audit == nil {
		return
	}
	err := c.cfg.Audit.Record(session.AuditEntry{
		Phase:   string(c.state.Phase),
		Kind:    kind,
		Detail:  detail,
		Outcome: outcome,
	})
	if err != nil {
		fmt.Fprintf(c.stderr, "warning: audit record failed: %v\n", err)
	}
}

// --- report-request watcher ---

func (c *Controller) watchReportRequests(ctx context.Context) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(c.cfg.Session.Dir); err != nil {
		w.Close()
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) == ReportRequestFile &&
					ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					c.reportRequested.Store(true)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return func() {
		w.Close()
		<-done
	}, nil
}
