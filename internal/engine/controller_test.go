package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dumpsleuth/dumpsleuth/internal/debugger"
	"github.com/dumpsleuth/dumpsleuth/internal/evidence"
	"github.com/dumpsleuth/dumpsleuth/internal/oracle"
	"github.com/dumpsleuth/dumpsleuth/internal/session"
)

// scriptOracle answers each agent prompt with a canned reply, keyed on
// the system prompt.
type scriptOracle struct {
	plan        string
	hypothesis  string
	evals       []string
	evalCalls   int
	investigate string
	reason      string
	critique    string
	report      string
}

func (s *scriptOracle) Complete(ctx context.Context, messages []oracle.Message, opts oracle.Options) (string, error) {
	system := messages[0].Content
	switch {
	case strings.Contains(system, "planning an analysis"):
		return s.plan, nil
	case strings.Contains(system, "testable hypothesis"):
		return s.hypothesis, nil
	case strings.Contains(system, "evaluate whether"):
		reply := s.evals[len(s.evals)-1]
		if s.evalCalls < len(s.evals) {
			reply = s.evals[s.evalCalls]
		}
		s.evalCalls++
		return reply, nil
	case strings.Contains(system, "one debugger command at a time"):
		return s.investigate, nil
	case strings.Contains(system, "synthesize crash dump evidence"):
		return s.reason, nil
	case strings.Contains(system, "skeptical reviewer"):
		return s.critique, nil
	case strings.Contains(system, "final report"):
		return s.report, nil
	}
	return "{}", nil
}

type scriptExecutor struct {
	outputs  map[string]string
	executed []string
}

func (e *scriptExecutor) Execute(ctx context.Context, command string) (*debugger.CommandResult, error) {
	e.executed = append(e.executed, command)
	out, ok := e.outputs[command]
	if !ok {
		out = "OS Thread Id: 0x1a2b\nno anomalies observed"
	}
	return &debugger.CommandResult{Command: command, Output: out, Success: true}, nil
}

const starvedPool = `CPU utilization: 81%
Worker Thread: Total: 16 Running: 16 Idle: 0 MaxLimit: 32767 MinLimit: 16
Work Request in Queue: 42
Completion Port Thread:Total: 2 Free: 2 MaxFree: 16 CurrentLimit: 2 MaxLimit: 1000 MinLimit: 16`

func happyOracle() *scriptOracle {
	return &scriptOracle{
		plan:        `{"tasks": ["Check thread pool health", "Survey thread stacks"], "reasoning": "hang symptoms"}`,
		hypothesis:  `{"hypothesis": "Thread pool starvation is blocking request processing", "confidence": "high", "reasoning": "hang with high CPU", "test_commands": ["!threadpool"], "expected_if_confirmed": "zero idle workers", "expected_if_rejected": "idle workers available", "alternative_hypotheses": ["Lock contention on a shared cache"]}`,
		evals:       []string{`{"result": "confirmed", "reasoning": "no idle workers and a deep queue"}`},
		investigate: `{"command": "!threads", "reason": "enumerate threads", "task_complete": true}`,
		reason:      `{"analysis": "All worker threads are busy and the request queue is backed up.", "conclusions": ["Thread pool starvation"], "confidence": "high", "done": true, "needs_deeper_investigation": false, "investigation_requests": []}`,
		critique:    `{"critical_issues": [], "evidence_gaps": [], "acceptable": true}`,
		report:      "## Executive Summary\n\nThread pool starvation caused the hang.",
	}
}

func newTestController(t *testing.T, orc oracle.Oracle, exec debugger.Executor, maxIter int) *Controller {
	t.Helper()
	dir := t.TempDir()
	store, err := evidence.OpenStore(evidence.StoreConfig{
		DBPath:    filepath.Join(dir, "evidence.db"),
		SessionID: "test-session",
		BlobDir:   dir,
		Threshold: 250000,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	c, err := New(Config{
		Oracle:        orc,
		Executor:      exec,
		Store:         store,
		MaxIterations: maxIter,
		RetryPolicy:   oracle.RetryPolicy{MaxAttempts: 1, BaseDelay: 0, Multiplier: 1},
		Stderr:        os.Stderr,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestControllerHappyPath(t *testing.T) {
	exec := &scriptExecutor{outputs: map[string]string{"!threadpool": starvedPool}}
	c := newTestController(t, happyOracle(), exec, 15)

	state, err := c.Run(context.Background(), "w3wp.dmp", "IIS workers hang under load")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Phase != PhaseDone {
		t.Errorf("phase = %s, want done", state.Phase)
	}
	if !strings.Contains(state.FinalReport, "Thread pool starvation caused the hang") {
		t.Errorf("report missing oracle body:\n%s", state.FinalReport)
	}
	if !strings.Contains(state.FinalReport, "# Dump Analysis Report") {
		t.Error("report missing header")
	}
	if state.HypothesisStatus != ResultConfirmed {
		t.Errorf("hypothesis status = %q", state.HypothesisStatus)
	}
	if len(state.CommandsExecuted) != 2 {
		t.Errorf("commands executed = %v", state.CommandsExecuted)
	}
	if state.TerminationReason != "" {
		t.Errorf("unexpected early termination: %q", state.TerminationReason)
	}
	if len(state.EvidenceIDs) == 0 {
		t.Error("no evidence stored")
	}
}

func TestTerminationPriorityOrder(t *testing.T) {
	c := newTestController(t, happyOracle(), &scriptExecutor{}, 15)
	c.state = &AnalysisState{
		MaxIterations: 15,
		Iteration:     15,
		Reason:        &ReasonBlock{Done: true},
		Plan:          &PlanBlock{Tasks: []string{"a"}, TaskIndex: 1},
	}

	// All three conditions hold; the iteration budget wins.
	reason, due := c.investigationDue()
	if !due || reason != ErrIterationLimit.Error() {
		t.Errorf("due = %v, reason = %q; want iteration limit first", due, reason)
	}

	c.state.Iteration = 3
	reason, due = c.investigationDue()
	if !due || reason != "analysis reported complete" {
		t.Errorf("reason = %q; want reasoner verdict second", reason)
	}

	c.state.Reason.Done = false
	reason, due = c.investigationDue()
	if !due || reason != "investigation plan exhausted" {
		t.Errorf("reason = %q; want plan exhaustion third", reason)
	}

	c.state.Plan.TaskIndex = 0
	if _, due = c.investigationDue(); due {
		t.Error("nothing due, but investigationDue fired")
	}
}

func TestIterationLimitEndsGracefully(t *testing.T) {
	orc := happyOracle()
	// The reasoner keeps asking for more work; only the budget stops it.
	orc.reason = `{"analysis": "partial", "conclusions": ["inconclusive"], "confidence": "low", "done": false, "needs_deeper_investigation": true, "investigation_requests": ["dig into the finalizer queue"]}`
	exec := &scriptExecutor{outputs: map[string]string{"!threadpool": starvedPool}}
	c := newTestController(t, orc, exec, 1)

	state, err := c.Run(context.Background(), "w3wp.dmp", "hang")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Phase != PhaseDone {
		t.Errorf("phase = %s", state.Phase)
	}
	if state.TerminationReason != ErrIterationLimit.Error() {
		t.Errorf("termination = %q, want iteration limit", state.TerminationReason)
	}
	if state.FinalReport == "" {
		t.Error("iteration limit must still produce a report")
	}
}

func TestRejectedHypothesisFormsAlternative(t *testing.T) {
	orc := happyOracle()
	orc.evals = []string{
		`{"result": "rejected", "reasoning": "idle workers present"}`,
		`{"result": "confirmed", "reasoning": "lock convoy visible"}`,
	}
	c := newTestController(t, orc, &scriptExecutor{}, 15)

	state, err := c.Run(context.Background(), "app.dmp", "intermittent stalls")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(state.Tests) != 2 {
		t.Fatalf("tests = %d, want 2", len(state.Tests))
	}
	if state.Tests[0].Result != ResultRejected || state.Tests[1].Result != ResultConfirmed {
		t.Errorf("test results = %q, %q", state.Tests[0].Result, state.Tests[1].Result)
	}
	if state.HypothesisAttempts != 2 {
		t.Errorf("attempts = %d, want 2", state.HypothesisAttempts)
	}
}

func TestInconclusiveBound(t *testing.T) {
	orc := happyOracle()
	orc.evals = []string{
		`{"result": "inconclusive", "reasoning": "mixed signals", "additional_commands": ["!runaway"]}`,
		`{"result": "inconclusive", "reasoning": "still unclear"}`,
		`{"result": "confirmed", "reasoning": "second hypothesis holds"}`,
	}
	c := newTestController(t, orc, &scriptExecutor{}, 15)

	state, err := c.Run(context.Background(), "app.dmp", "stalls")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Two inconclusive rounds force a fresh hypothesis.
	if len(state.Tests) != 2 {
		t.Fatalf("tests = %d, want 2", len(state.Tests))
	}
	if state.Tests[0].InconclusiveCount != 2 {
		t.Errorf("inconclusive count = %d, want 2", state.Tests[0].InconclusiveCount)
	}
}

func TestRequestReportShortCircuits(t *testing.T) {
	orc := happyOracle()
	c := newTestController(t, orc, &scriptExecutor{}, 15)
	c.RequestReport()

	state, err := c.Run(context.Background(), "w3wp.dmp", "hang")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Phase != PhaseDone {
		t.Errorf("phase = %s", state.Phase)
	}
	if state.TerminationReason != "report requested" {
		t.Errorf("termination = %q", state.TerminationReason)
	}
	if len(state.CommandsExecuted) != 0 {
		t.Errorf("no commands should run, got %v", state.CommandsExecuted)
	}
	if state.FinalReport == "" {
		t.Error("report missing")
	}
}

func TestCancellationPreservesState(t *testing.T) {
	c := newTestController(t, happyOracle(), &scriptExecutor{}, 15)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := c.Run(ctx, "w3wp.dmp", "hang")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if state == nil || state.TerminationReason != "cancelled" {
		t.Errorf("state = %+v", state)
	}
}

func TestReportRequestFileWatcher(t *testing.T) {
	mgr, err := session.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	sess, err := mgr.Create("w3wp.dmp", "hang")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	c := newTestController(t, happyOracle(), &scriptExecutor{}, 15)
	c.cfg.Session = sess
	c.state = &AnalysisState{Phase: PhasePlan, MaxIterations: 15}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := c.watchReportRequests(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	path := filepath.Join(sess.Dir, ReportRequestFile)
	if err := os.WriteFile(path, []byte("now"), 0o600); err != nil {
		t.Fatalf("write control file: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !c.reportRequested.Load() {
		if time.Now().After(deadline) {
			t.Fatal("report request not observed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
