package analyzers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	gcHeapCountRe = regexp.MustCompile(`Number of GC Heaps:\s*(\d+)`)
	// segment begin allocated 0xsize(decimal)
	heapSegmentRe = regexp.MustCompile(`^([0-9a-fA-F]+)\s+([0-9a-fA-F]+)\s+([0-9a-fA-F]+)\s+0x([0-9a-fA-F]+)\((\d+)\)`)
	gcTotalSizeRe = regexp.MustCompile(`(?i)GC Heap Size:\s*(?:Size:\s*)?(?:0x[0-9a-fA-F]+\s*)?\((\d+)\)`)
)

// HeapSegment is one GC heap segment row from !eeheap -gc.
type HeapSegment struct {
	Address   string
	Begin     string
	Allocated string
	Size      int64
	IsLOH     bool
}

// EEHeapAnalyzer parses !eeheap -gc output into per-segment sizes and
// large-object-heap share.
type EEHeapAnalyzer struct{}

func NewEEHeapAnalyzer() *EEHeapAnalyzer { return &EEHeapAnalyzer{} }

func (a *EEHeapAnalyzer) Name() string        { return "eeheap" }
func (a *EEHeapAnalyzer) Description() string { return "GC heap layout from !eeheap" }
func (a *EEHeapAnalyzer) Tier() int           { return 2 }

func (a *EEHeapAnalyzer) CanAnalyze(command string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(command)), "!eeheap")
}

func (a *EEHeapAnalyzer) Analyze(command, output string) *AnalysisResult {
	heapCount := 1
	if m := gcHeapCountRe.FindStringSubmatch(output); m != nil {
		heapCount = atoiMust(m[1])
	}

	segments := parseHeapSegments(output)
	if len(segments) == 0 {
		return failure(a.Name(), a.Tier(), "no heap segments found in output")
	}

	var totalSize, lohSize int64
	for _, s := range segments {
		totalSize += s.Size
		if s.IsLOH {
			lohSize += s.Size
		}
	}
	if m := gcTotalSizeRe.FindStringSubmatch(output); m != nil {
		if v, err := strconv.ParseInt(m[1], 10, 64); err == nil && v > totalSize {
			totalSize = v
		}
	}

	lohPct := 0.0
	if totalSize > 0 {
		lohPct = float64(lohSize) / float64(totalSize) * 100
	}

	summary := fmt.Sprintf("GC heap spans %d heap(s) and %d segments totaling %s (LOH %.1f%%).",
		heapCount, len(segments), formatBytes(totalSize), lohPct)

	findings := []string{
		fmt.Sprintf("GC heaps: %d", heapCount),
		fmt.Sprintf("Segments: %d", len(segments)),
		fmt.Sprintf("Total GC heap size: %s", formatBytes(totalSize)),
		fmt.Sprintf("Large object heap: %s (%.1f%%)", formatBytes(lohSize), lohPct),
	}
	if totalSize > 2*1024*1024*1024 {
		findings = append(findings, "High memory usage (>2 GB)")
	}
	if lohPct > 30 {
		findings = append(findings, "High LOH percentage (>30% of total)")
	}

	md := meta(a.Name(), a.Tier())
	md["total_size"] = totalSize

	return &AnalysisResult{
		StructuredData: map[string]any{
			"heap_count": heapCount,
			"segments":   segments,
			"total_size": totalSize,
			"loh_size":   lohSize,
		},
		Summary:  summary,
		Findings: findings,
		Metadata: md,
		Success:  true,
	}
}

func parseHeapSegments(output string) []HeapSegment {
	var segments []HeapSegment
	isLOH := false
	for _, line := range splitLines(output) {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "large object heap") {
			isLOH = true
			continue
		}
		if strings.Contains(lower, "ephemeral segment") {
			isLOH = false
			continue
		}
		m := heapSegmentRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		size, err := strconv.ParseInt(m[5], 10, 64)
		if err != nil {
			continue
		}
		segments = append(segments, HeapSegment{
			Address:   m[1],
			Begin:     m[2],
			Allocated: m[3],
			Size:      size,
			IsLOH:     isLOH,
		})
	}
	return segments
}
