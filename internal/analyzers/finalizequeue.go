package analyzers

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fqHeapHeaderRe = regexp.MustCompile(`^Heap\s+(\d+)`)
	fqGenerationRe = regexp.MustCompile(`generation\s+(\d+)\s+has\s+(\d+)\s+finalizable`)
	fqReadyRe      = regexp.MustCompile(`Ready for finalization\s+(\d+)`)
	fqSyncBlocksRe = regexp.MustCompile(`SyncBlocks to be cleaned up:\s*(\d+)`)
)

// FinalizerHeap is the finalization state of one GC heap.
type FinalizerHeap struct {
	HeapID     int
	Gen0Count  int
	Gen1Count  int
	Gen2Count  int
	ReadyCount int
}

// FinalizeQueueAnalyzer parses !finalizequeue output and flags
// finalizer-thread backups.
type FinalizeQueueAnalyzer struct{}

func NewFinalizeQueueAnalyzer() *FinalizeQueueAnalyzer { return &FinalizeQueueAnalyzer{} }

func (a *FinalizeQueueAnalyzer) Name() string        { return "finalizequeue" }
func (a *FinalizeQueueAnalyzer) Description() string { return "finalizer queue state from !finalizequeue" }
func (a *FinalizeQueueAnalyzer) Tier() int           { return 2 }

func (a *FinalizeQueueAnalyzer) CanAnalyze(command string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(command)), "!finalizequeue")
}

func (a *FinalizeQueueAnalyzer) Analyze(command, output string) *AnalysisResult {
	heaps := parseFinalizerHeaps(output)

	var totalFinalizable, totalGen2, totalReady int
	for _, h := range heaps {
		totalFinalizable += h.Gen0Count + h.Gen1Count + h.Gen2Count
		totalGen2 += h.Gen2Count
		totalReady += h.ReadyCount
	}
	syncBlocks := captureInt(fqSyncBlocksRe, output)

	var issues []string
	if totalReady > 1000 {
		issues = append(issues, fmt.Sprintf("%d objects ready for finalization - finalizer thread may be blocked", totalReady))
	}
	if totalGen2 > 10000 {
		issues = append(issues, fmt.Sprintf("%d finalizable objects survived to Gen2 - possible finalizer backlog", totalGen2))
	}

	var summary string
	if len(issues) > 0 {
		summary = fmt.Sprintf("Finalizer queue backup detected: %d total objects (%d in Gen2)", totalFinalizable, totalGen2)
	} else {
		summary = fmt.Sprintf("Finalizer queue normal: %d finalizable objects", totalFinalizable)
	}

	findings := []string{
		fmt.Sprintf("Finalizable objects: %d", totalFinalizable),
		fmt.Sprintf("Ready for finalization: %d", totalReady),
	}
	if syncBlocks > 0 {
		findings = append(findings, fmt.Sprintf("SyncBlocks to clean: %d", syncBlocks))
	}
	if len(issues) > 0 {
		findings = append(findings, "Finalizer issues:")
		for _, issue := range issues {
			findings = append(findings, "  - "+issue)
		}
	} else {
		findings = append(findings, "Finalizer queue healthy")
	}

	status := "healthy"
	if len(issues) > 0 {
		status = "unhealthy"
	}
	md := meta(a.Name(), a.Tier())
	md["health_status"] = status

	return &AnalysisResult{
		StructuredData: map[string]any{
			"heaps":             heaps,
			"total_finalizable": totalFinalizable,
			"total_gen2":        totalGen2,
			"total_ready":       totalReady,
			"sync_blocks":       syncBlocks,
			"issues":            issues,
		},
		Summary:  summary,
		Findings: findings,
		Metadata: md,
		Success:  true,
	}
}

func parseFinalizerHeaps(output string) []FinalizerHeap {
	var heaps []FinalizerHeap
	var current *FinalizerHeap
	for _, line := range splitLines(output) {
		if m := fqHeapHeaderRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if current != nil {
				heaps = append(heaps, *current)
			}
			current = &FinalizerHeap{HeapID: atoiMust(m[1])}
			continue
		}
		if current == nil {
			continue
		}
		if m := fqGenerationRe.FindStringSubmatch(line); m != nil {
			count := atoiMust(m[2])
			switch m[1] {
			case "0":
				current.Gen0Count = count
			case "1":
				current.Gen1Count = count
			case "2":
				current.Gen2Count = count
			}
			continue
		}
		if m := fqReadyRe.FindStringSubmatch(line); m != nil {
			current.ReadyCount = atoiMust(m[1])
		}
	}
	if current != nil {
		heaps = append(heaps, *current)
	}
	return heaps
}
