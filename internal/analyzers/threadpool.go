package analyzers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	cpuUtilRe    = regexp.MustCompile(`CPU utilization:\s*(\d+)%`)
	workerRe     = regexp.MustCompile(`Worker Thread:\s*Total:\s*(\d+)\s*Running:\s*(\d+)\s*Idle:\s*(\d+)`)
	completionRe = regexp.MustCompile(`Completion Port Thread:\s*Total:\s*(\d+)\s*Free:\s*(\d+)`)
	queueRe      = regexp.MustCompile(`Work Request in Queue:\s*(\d+)`)
	timersRe     = regexp.MustCompile(`Number of Timers:\s*(\d+)`)
)

// ThreadPoolAnalyzer parses !threadpool output into worker and
// completion-port statistics and flags starvation conditions.
type ThreadPoolAnalyzer struct{}

func NewThreadPoolAnalyzer() *ThreadPoolAnalyzer { return &ThreadPoolAnalyzer{} }

func (a *ThreadPoolAnalyzer) Name() string        { return "threadpool" }
func (a *ThreadPoolAnalyzer) Description() string { return "thread pool health from !threadpool" }
func (a *ThreadPoolAnalyzer) Tier() int           { return 1 }

func (a *ThreadPoolAnalyzer) CanAnalyze(command string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(command)), "!threadpool")
}

func (a *ThreadPoolAnalyzer) Analyze(command, output string) *AnalysisResult {
	cpu := captureInt(cpuUtilRe, output)

	var total, running, idle int
	haveWorkers := false
	if m := workerRe.FindStringSubmatch(output); m != nil {
		total = atoiMust(m[1])
		running = atoiMust(m[2])
		idle = atoiMust(m[3])
		haveWorkers = true
	}
	var cpTotal, cpFree int
	if m := completionRe.FindStringSubmatch(output); m != nil {
		cpTotal = atoiMust(m[1])
		cpFree = atoiMust(m[2])
	}
	queue := captureInt(queueRe, output)
	timers := captureInt(timersRe, output)

	var issues []string
	if queue > 0 {
		issues = append(issues, fmt.Sprintf("Work queue backlog: %d items", queue))
	}
	// Starvation checks only make sense when a worker line was present.
	if haveWorkers && idle == 0 {
		issues = append(issues, "No idle worker threads - potential starvation")
	}
	if haveWorkers && running >= total {
		issues = append(issues, "All worker threads busy")
	}

	var summary string
	if len(issues) > 0 {
		shown := issues
		if len(shown) > 2 {
			shown = shown[:2]
		}
		summary = "Thread pool shows issues: " + strings.Join(shown, ", ")
	} else {
		summary = fmt.Sprintf("Thread pool healthy: %d idle workers, %d queued items", idle, queue)
	}

	findings := []string{
		fmt.Sprintf("CPU utilization: %d%%", cpu),
		fmt.Sprintf("Worker threads: %d running, %d idle, %d total", running, idle, total),
		fmt.Sprintf("Completion port threads: %d free, %d total", cpFree, cpTotal),
		fmt.Sprintf("Work queue depth: %d", queue),
	}
	if len(issues) > 0 {
		findings = append(findings, "Thread pool issues detected:")
		for _, issue := range issues {
			findings = append(findings, "  - "+issue)
		}
	} else {
		findings = append(findings, "Thread pool operating normally")
	}

	status := "healthy"
	if len(issues) > 0 {
		status = "unhealthy"
	}
	md := meta(a.Name(), a.Tier())
	md["health_status"] = status

	return &AnalysisResult{
		StructuredData: map[string]any{
			"cpu_utilization":         cpu,
			"worker_threads":          map[string]int{"total": total, "running": running, "idle": idle},
			"completion_port_threads": map[string]int{"total": cpTotal, "free": cpFree},
			"queue_depth":             queue,
			"timer_count":             timers,
			"health_issues":           issues,
		},
		Summary:  summary,
		Findings: findings,
		Metadata: md,
		Success:  true,
	}
}

func captureInt(re *regexp.Regexp, s string) int {
	if m := re.FindStringSubmatch(s); m != nil {
		return atoiMust(m[1])
	}
	return 0
}

// atoiMust converts a digits-only regexp capture; the pattern guarantees
// the input parses.
func atoiMust(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
