package analyzers

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	threadStatsRes = map[string]*regexp.Regexp{
		"ThreadCount":      regexp.MustCompile(`ThreadCount:\s+(\d+)`),
		"UnstartedThread":  regexp.MustCompile(`UnstartedThread:\s+(\d+)`),
		"BackgroundThread": regexp.MustCompile(`BackgroundThread:\s+(\d+)`),
		"PendingThread":    regexp.MustCompile(`PendingThread:\s+(\d+)`),
		"DeadThread":       regexp.MustCompile(`DeadThread:\s+(\d+)`),
	}

	// DBG ID OSID ThreadOBJ State GC-Mode GC-Alloc-Context Domain
	// Lock-Count Apt [Exception]. Dead threads carry XXXX in the DBG
	// column.
	threadRowStartRe = regexp.MustCompile(`^\s*(\d+|XXXX)\s+\d+\s+`)
	threadRowRe      = regexp.MustCompile(
		`^\s*(\d+|XXXX)\s+(\d+)\s+([0-9a-fA-F]+)\s+([0-9a-fA-F]+)\s+([0-9a-fA-F]+)\s+(\w+)\s+` +
			`([0-9a-fA-F]+:[0-9a-fA-F]+)\s+([0-9a-fA-F]+)\s+(\d+)\s+(\w+)(?:\s+(.+))?$`)
	threadSpecialRe = regexp.MustCompile(`^\(([^)]+)\)`)
)

// ThreadInfo is one parsed row of the !threads table.
type ThreadInfo struct {
	DbgID     int
	ManagedID int
	OSID      string
	ThreadObj string
	State     string
	GCMode    string
	Domain    string
	LockCount int
	Apartment string
	Special   string
	Exception string
	IsDead    bool
}

// ThreadsAnalyzer parses the managed thread table from !threads.
type ThreadsAnalyzer struct{}

func NewThreadsAnalyzer() *ThreadsAnalyzer { return &ThreadsAnalyzer{} }

func (a *ThreadsAnalyzer) Name() string        { return "threads" }
func (a *ThreadsAnalyzer) Description() string { return "managed thread listing from !threads" }
func (a *ThreadsAnalyzer) Tier() int           { return 1 }

func (a *ThreadsAnalyzer) CanAnalyze(command string) bool {
	cmd := strings.ToLower(strings.TrimSpace(command))
	return strings.HasPrefix(cmd, "!threads") || strings.HasPrefix(cmd, "!t ")
}

func (a *ThreadsAnalyzer) Analyze(command, output string) *AnalysisResult {
	stats := extractThreadStats(output)
	threads := extractThreads(output)

	gcModeCounts := map[string]int{}
	apartmentCounts := map[string]int{}
	var holdingLocks, finalizers, gcThreads []ThreadInfo
	for _, t := range threads {
		gcModeCounts[t.GCMode]++
		apartmentCounts[t.Apartment]++
		if t.LockCount > 0 {
			holdingLocks = append(holdingLocks, t)
		}
		special := strings.ToLower(t.Special)
		switch {
		case strings.Contains(special, "finalizer"):
			finalizers = append(finalizers, t)
		case strings.Contains(special, "gc"):
			gcThreads = append(gcThreads, t)
		}
	}

	total := stats["ThreadCount"]
	if total == 0 {
		total = len(threads)
	}

	parts := []string{fmt.Sprintf("Found %d threads in the process.", total)}
	if bg := stats["BackgroundThread"]; bg > 0 {
		parts = append(parts, fmt.Sprintf("%d are background threads.", bg))
	}
	if dead := stats["DeadThread"]; dead > 0 {
		parts = append(parts, fmt.Sprintf("%d are dead threads.", dead))
	}
	if len(holdingLocks) > 0 {
		parts = append(parts, fmt.Sprintf("%d threads hold locks.", len(holdingLocks)))
	}
	summary := strings.Join(parts, " ")

	findings := []string{
		fmt.Sprintf("Total threads: %d", total),
		fmt.Sprintf("Foreground: %d, Background: %d", total-stats["BackgroundThread"], stats["BackgroundThread"]),
	}
	if dead := stats["DeadThread"]; dead > 0 {
		findings = append(findings, fmt.Sprintf("Dead threads: %d (may indicate thread pool issues)", dead))
	}
	if len(holdingLocks) > 0 {
		findings = append(findings, fmt.Sprintf("%d threads holding locks (potential synchronization points)", len(holdingLocks)))
	}
	if len(finalizers) > 0 {
		findings = append(findings, "Finalizer thread detected")
	}
	if len(gcThreads) > 0 {
		findings = append(findings, fmt.Sprintf("%d GC threads detected", len(gcThreads)))
	}

	md := meta(a.Name(), a.Tier())
	md["thread_count"] = total

	return &AnalysisResult{
		StructuredData: map[string]any{
			"stats":            stats,
			"threads":          threads,
			"gc_mode_counts":   gcModeCounts,
			"apartment_counts": apartmentCounts,
			"threads_with_locks": holdingLocks,
		},
		Summary:  summary,
		Findings: findings,
		Metadata: md,
		Success:  true,
	}
}

func extractThreadStats(output string) map[string]int {
	stats := map[string]int{}
	for key, re := range threadStatsRes {
		if m := re.FindStringSubmatch(output); m != nil {
			stats[key] = atoiMust(m[1])
		}
	}
	return stats
}

func extractThreads(output string) []ThreadInfo {
	lines := joinWrappedThreadLines(splitLines(output))

	var threads []ThreadInfo
	for _, line := range lines {
		m := threadRowRe.FindStringSubmatch(strings.TrimRight(line, " \t"))
		if m == nil {
			continue
		}
		t := ThreadInfo{
			ManagedID: atoiMust(m[2]),
			OSID:      m[3],
			ThreadObj: m[4],
			State:     m[5],
			GCMode:    m[6],
			Domain:    m[8],
			LockCount: atoiMust(m[9]),
			Apartment: m[10],
			IsDead:    m[1] == "XXXX",
		}
		if !t.IsDead {
			t.DbgID = atoiMust(m[1])
		}
		// The trailing column mixes special designations like
		// (Finalizer) with exception type names.
		if col := strings.TrimSpace(m[11]); col != "" {
			if sm := threadSpecialRe.FindStringSubmatch(col); sm != nil {
				t.Special = sm[1]
				t.Exception = strings.TrimSpace(col[len(sm[0]):])
			} else {
				t.Exception = col
			}
		}
		threads = append(threads, t)
	}
	return threads
}

// joinWrappedThreadLines re-joins table rows the debugger wrapped at its
// console width, so the row regex sees one logical line per thread.
func joinWrappedThreadLines(lines []string) []string {
	var joined []string
	for i := 0; i < len(lines); {
		line := lines[i]
		if !threadRowStartRe.MatchString(line) {
			joined = append(joined, line)
			i++
			continue
		}
		full := line
		i++
		for i < len(lines) {
			next := lines[i]
			trimmed := strings.TrimSpace(next)
			if threadRowStartRe.MatchString(next) || trimmed == "" ||
				strings.HasPrefix(trimmed, "ThreadCount") || strings.HasPrefix(trimmed, "ID OSID") {
				break
			}
			full += strings.TrimRight(next, " \t")
			i++
		}
		joined = append(joined, full)
	}
	return joined
}
