package analyzers

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

//    0:1a2c      0 days 0:05:32.031
var runawayRowRe = regexp.MustCompile(
	`^\s*(\d+):([0-9a-fA-F]+)\s+(\d+)\s+days\s+(\d+):(\d{2}):(\d{2})\.(\d{3})`)

// ThreadTime is one row of the !runaway per-thread CPU table.
type ThreadTime struct {
	DbgID   int
	OSID    string
	Seconds float64
}

// RunawayAnalyzer parses per-thread CPU time from !runaway to spot
// threads dominating the processor.
type RunawayAnalyzer struct{}

func NewRunawayAnalyzer() *RunawayAnalyzer { return &RunawayAnalyzer{} }

func (a *RunawayAnalyzer) Name() string        { return "runaway" }
func (a *RunawayAnalyzer) Description() string { return "per-thread CPU time from !runaway" }
func (a *RunawayAnalyzer) Tier() int           { return 1 }

func (a *RunawayAnalyzer) CanAnalyze(command string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(command)), "!runaway")
}

func (a *RunawayAnalyzer) Analyze(command, output string) *AnalysisResult {
	times := extractThreadTimes(output)
	if len(times) == 0 {
		return failure(a.Name(), a.Tier(), "no per-thread time rows found in runaway output")
	}

	sort.SliceStable(times, func(i, j int) bool { return times[i].Seconds > times[j].Seconds })

	var total float64
	for _, t := range times {
		total += t.Seconds
	}
	top := times[0]

	summary := fmt.Sprintf("CPU time across %d threads totals %s.", len(times), formatSeconds(total))
	findings := []string{
		fmt.Sprintf("Top CPU consumer: thread %d (OSID %s) with %s", top.DbgID, top.OSID, formatSeconds(top.Seconds)),
	}
	if total > 0 {
		share := top.Seconds / total
		if share >= 0.5 && len(times) > 1 {
			findings = append(findings, fmt.Sprintf(
				"Thread %d accounts for %.0f%% of all CPU time (possible spin or hot loop)", top.DbgID, share*100))
			summary += fmt.Sprintf(" Thread %d dominates with %.0f%% of the total.", top.DbgID, share*100)
		}
	}
	limit := len(times)
	if limit > 5 {
		limit = 5
	}
	for _, t := range times[1:limit] {
		if t.Seconds == 0 {
			break
		}
		findings = append(findings, fmt.Sprintf("Thread %d (OSID %s): %s", t.DbgID, t.OSID, formatSeconds(t.Seconds)))
	}

	md := meta(a.Name(), a.Tier())
	md["thread_count"] = len(times)

	return &AnalysisResult{
		StructuredData: map[string]any{
			"thread_times":  times,
			"total_seconds": total,
		},
		Summary:  summary,
		Findings: findings,
		Metadata: md,
		Success:  true,
	}
}

func extractThreadTimes(output string) []ThreadTime {
	var times []ThreadTime
	for _, line := range splitLines(output) {
		m := runawayRowRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		secs := float64(atoiMust(m[3]))*86400 +
			float64(atoiMust(m[4]))*3600 +
			float64(atoiMust(m[5]))*60 +
			float64(atoiMust(m[6])) +
			float64(atoiMust(m[7]))/1000
		times = append(times, ThreadTime{
			DbgID:   atoiMust(m[1]),
			OSID:    m[2],
			Seconds: secs,
		})
	}
	return times
}

func formatSeconds(s float64) string {
	if s >= 3600 {
		return fmt.Sprintf("%.1f hours", s/3600)
	}
	if s >= 60 {
		return fmt.Sprintf("%.1f minutes", s/60)
	}
	return fmt.Sprintf("%.1f seconds", s)
}
