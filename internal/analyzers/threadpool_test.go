package analyzers

import (
	"strings"
	"testing"
)

const threadpoolStarved = `CPU utilization: 81%
Worker Thread: Total: 16 Running: 16 Idle: 0 MaxLimit: 32767 MinLimit: 8
Work Request in Queue: 42
Number of Timers: 3
Completion Port Thread:Total: 2 Free: 1 MaxFree: 16
`

const threadpoolHealthy = `CPU utilization: 4%
Worker Thread: Total: 16 Running: 2 Idle: 14 MaxLimit: 32767 MinLimit: 8
Work Request in Queue: 0
Number of Timers: 1
Completion Port Thread:Total: 11 Free: 10 MaxFree: 16
`

func TestThreadPoolStarvation(t *testing.T) {
	a := NewThreadPoolAnalyzer()
	res := a.Analyze("!threadpool", threadpoolStarved)

	if !res.Success {
		t.Fatalf("analyze failed: %s", res.Err)
	}
	if res.Summary == "" {
		t.Error("summary must be non-empty")
	}

	joined := strings.ToLower(strings.Join(res.Findings, "\n"))
	if !strings.Contains(joined, "starvation") {
		t.Errorf("findings missing starvation signal:\n%s", joined)
	}
	if !strings.Contains(joined, "all worker threads busy") {
		t.Errorf("findings missing busy-workers signal:\n%s", joined)
	}

	issues := res.StructuredData["health_issues"].([]string)
	if len(issues) < 2 {
		t.Errorf("expected at least 2 health issues, got %v", issues)
	}
}

func TestThreadPoolHealthy(t *testing.T) {
	a := NewThreadPoolAnalyzer()
	res := a.Analyze("!threadpool", threadpoolHealthy)

	if !res.Success {
		t.Fatalf("analyze failed: %s", res.Err)
	}
	if issues := res.StructuredData["health_issues"].([]string); len(issues) != 0 {
		t.Errorf("healthy pool reported issues: %v", issues)
	}
	if !strings.Contains(res.Summary, "healthy") {
		t.Errorf("summary should report health: %q", res.Summary)
	}
	workers := res.StructuredData["worker_threads"].(map[string]int)
	if workers["idle"] != 14 || workers["total"] != 16 {
		t.Errorf("worker stats wrong: %v", workers)
	}
}

func TestThreadPoolNoWorkerLine(t *testing.T) {
	a := NewThreadPoolAnalyzer()
	res := a.Analyze("!threadpool", "CPU utilization: 2%\nNumber of Timers: 0\n")

	if !res.Success {
		t.Fatalf("analyze failed: %s", res.Err)
	}
	if issues := res.StructuredData["health_issues"].([]string); len(issues) != 0 {
		t.Errorf("output without worker stats reported issues: %v", issues)
	}
	joined := strings.ToLower(strings.Join(res.Findings, "\n"))
	if strings.Contains(joined, "starvation") {
		t.Errorf("false starvation signal:\n%s", joined)
	}
}

func TestThreadPoolCanAnalyze(t *testing.T) {
	a := NewThreadPoolAnalyzer()
	if !a.CanAnalyze("  !threadpool") {
		t.Error("should match !threadpool")
	}
	if a.CanAnalyze("!threads") {
		t.Error("should not match !threads")
	}
}
