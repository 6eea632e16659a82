package analyzers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// Index SyncBlock MonitorHeld Recursion Owning-thread. MonitorHeld
	// is hexadecimal in SOS output; the owning-thread column carries
	// the managed thread id, not the debugger thread number.
	syncblkRowRe   = regexp.MustCompile(`^\s*(\d+)\s+([0-9a-fA-F]+)\s+([0-9a-fA-F]+)\s+(\d+)\s+(\d+)`)
	syncblkTotalRe = regexp.MustCompile(`(?im)^Total:?\s+(\d+)`)
)

// SyncBlock is one parsed !syncblk row.
type SyncBlock struct {
	Index          int
	SyncBlockAddr  string
	MonitorHeld    int64
	Recursion      int
	HoldingThread  int
	WaitingThreads int
}

// SyncBlockAnalyzer extracts lock-contention information from !syncblk.
type SyncBlockAnalyzer struct{}

func NewSyncBlockAnalyzer() *SyncBlockAnalyzer { return &SyncBlockAnalyzer{} }

func (a *SyncBlockAnalyzer) Name() string        { return "syncblk" }
func (a *SyncBlockAnalyzer) Description() string { return "lock contention from !syncblk" }
func (a *SyncBlockAnalyzer) Tier() int           { return 1 }

func (a *SyncBlockAnalyzer) CanAnalyze(command string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(command)), "!syncblk")
}

func (a *SyncBlockAnalyzer) Analyze(command, output string) *AnalysisResult {
	blocks, err := parseSyncBlocks(output)
	if err != nil {
		return failure(a.Name(), a.Tier(), "parse sync blocks: %v", err)
	}

	total := len(blocks)
	if m := syncblkTotalRe.FindStringSubmatch(output); m != nil {
		total = atoiMust(m[1])
	}

	var contention []SyncBlock
	for _, b := range blocks {
		if b.WaitingThreads > 0 {
			contention = append(contention, b)
		}
	}

	var summary string
	switch {
	case len(blocks) == 0 && total == 0:
		summary = "No synchronization blocks found. No lock contention detected."
	case len(contention) > 0:
		summary = fmt.Sprintf("Found %d sync blocks with contention out of %d total.", len(contention), total)
	default:
		summary = fmt.Sprintf("Found %d sync blocks with no active contention.", total)
	}

	findings := []string{
		fmt.Sprintf("Total sync blocks: %d", total),
		fmt.Sprintf("Sync blocks with contention: %d", len(contention)),
	}
	if len(contention) > 0 {
		findings = append(findings, "Lock contention detected - potential deadlock or blocking")
		top := contention
		if len(top) > 3 {
			top = top[:3]
		}
		for _, b := range top {
			findings = append(findings, fmt.Sprintf("  Managed thread ID %d holding lock, %d threads waiting", b.HoldingThread, b.WaitingThreads))
		}
	} else {
		findings = append(findings, "No lock contention - synchronization healthy")
	}

	md := meta(a.Name(), a.Tier())
	md["contention_count"] = len(contention)

	return &AnalysisResult{
		StructuredData: map[string]any{
			"total_syncblks": total,
			"sync_blocks":    blocks,
			"contention":     contention,
		},
		Summary:  summary,
		Findings: findings,
		Metadata: md,
		Success:  true,
	}
}

func parseSyncBlocks(output string) ([]SyncBlock, error) {
	var blocks []SyncBlock
	for _, line := range splitLines(output) {
		m := syncblkRowRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		held, err := strconv.ParseInt(m[3], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("MonitorHeld %q: %w", m[3], err)
		}
		blocks = append(blocks, SyncBlock{
			Index:          atoiMust(m[1]),
			SyncBlockAddr:  m[2],
			MonitorHeld:    held,
			Recursion:      atoiMust(m[4]),
			HoldingThread:  atoiMust(m[5]),
			WaitingThreads: waitersFromMonitorHeld(held),
		})
	}
	return blocks, nil
}

// waitersFromMonitorHeld decodes the SOS MonitorHeld encoding: the owner
// contributes 1 and each waiter contributes 2, so a held value of 2e
// hex (46) means one owner and 22 waiters.
func waitersFromMonitorHeld(held int64) int {
	if held <= 1 {
		return 0
	}
	return int((held - 1) / 2)
}
